package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yungbote/mediapipe-orchestrator/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("failed to initialize app: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		a.Log.Info("shutting down")
		if err := a.Close(context.Background()); err != nil {
			a.Log.Warn("shutdown error", "error", err)
		}
	}()

	if err := a.Run(); err != nil {
		a.Log.Fatal("server failed", "error", err)
	}
}
