package bootstrap

import (
	"context"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type operation func(ctx context.Context) error

type shutdownStep struct {
	name string
	op   operation
}

// gracefulShutdown waits for a termination signal, then runs steps one after another so
// servers stop taking traffic before the worker drains and the store and queue are closed.
// The process is killed if the steps outlive timeout.
func gracefulShutdown(timeout time.Duration, steps ...shutdownStep) <-chan struct{} {
	wait := make(chan struct{})
	go func() {
		defer close(wait)

		s := make(chan os.Signal, 1)
		signal.Notify(s, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		sig := <-s

		logrus.WithField("signal", sig.String()).Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		forceExit := time.AfterFunc(timeout, func() {
			logrus.WithField("timeout", timeout.String()).Error("graceful shutdown timed out, force exit")
			os.Exit(1)
		})
		defer forceExit.Stop()

		for _, step := range steps {
			started := time.Now()
			logger := logrus.WithField("step", step.name)
			if err := step.op(ctx); err != nil {
				logger.WithError(err).Error("clean up failed")
				continue
			}
			logger.WithField("elapsed", time.Since(started).String()).Info("shutdown gracefully")
		}
	}()

	return wait
}

// runWS reads msg frames from wsHost until ctx is done or the server closes the connection.
// A normal closure is not an error.
func runWS(ctx context.Context, wsHost url.URL, onMessage func(ctx context.Context, message []byte) error) error {

	logrus.Infof("connecting to %s", wsHost.String())

	c, _, err := websocket.DefaultDialer.DialContext(ctx, wsHost.String(), nil)
	if err != nil {
		logrus.Error(err)
		return err
	}
	defer c.Close()

	// Setup pong handler
	c.SetPongHandler(func(string) error {
		logrus.Debug("pong")
		return nil
	})

	// Ping loop
	var writeMu sync.Mutex
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				writeMu.Lock()
				err := c.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if err != nil {
					logrus.Error(err)
					return
				}
			case <-ctx.Done():
				writeMu.Lock()
				_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				writeMu.Unlock()
				_ = c.Close()
				return
			}
		}
	}()

	// Read loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			logrus.Error(err)
			return err
		}

		if onMessage != nil {
			if err := onMessage(ctx, message); err != nil {
				logrus.Error(err)
			}
		}
	}
}
