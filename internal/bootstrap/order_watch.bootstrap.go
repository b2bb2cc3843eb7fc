package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/order-execution-engine/internal/config"
	"github.com/krobus00/order-execution-engine/internal/service/observer"
	"github.com/krobus00/order-execution-engine/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	ErrWatchTargetMissing = errors.New("either an order id or --token-in, --token-out and --amount are required")
)

const watchSubmitTimeout = 10 * time.Second

// StartOrderWatch prints the status stream of an order, submitting one first when
// token flags are given instead of an order id.
func StartOrderWatch(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	host, _ := cmd.Flags().GetString("host")
	loop, _ := cmd.Flags().GetBool("loop")
	tokenIn, _ := cmd.Flags().GetString("token-in")
	tokenOut, _ := cmd.Flags().GetString("token-out")
	amount, _ := cmd.Flags().GetString("amount")

	if strings.TrimSpace(host) == "" {
		host = fmt.Sprintf("http://localhost:%s", config.Env.Port["order_engine_gateway_http"])
	}
	baseURL, err := url.Parse(host)
	util.ContinueOrFatal(err)

	var orderID string
	switch {
	case len(args) > 0:
		orderID = args[0]
	case tokenIn != "" && tokenOut != "" && amount != "":
		orderID, err = submitWatchedOrder(ctx, *baseURL, tokenIn, tokenOut, amount)
		util.ContinueOrFatal(err)
	default:
		util.ContinueOrFatal(ErrWatchTargetMissing)
	}

	wsURL := *baseURL
	wsURL.Scheme = "ws"
	if baseURL.Scheme == "https" {
		wsURL.Scheme = "wss"
	}
	wsURL.Path = fmt.Sprintf("/api/orders/%s/stream", url.PathEscape(orderID))
	wsURL.RawQuery = url.Values{"loop": []string{strconv.FormatBool(loop)}}.Encode()

	err = runWS(ctx, wsURL, printStreamMessage)
	if err != nil {
		os.Exit(1)
	}
}

func submitWatchedOrder(ctx context.Context, baseURL url.URL, tokenIn, tokenOut, amount string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, watchSubmitTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{
		"type":     "market",
		"tokenIn":  tokenIn,
		"tokenOut": tokenOut,
		"amount":   amount,
	})
	if err != nil {
		return "", err
	}

	baseURL.Path = "/api/orders/execute"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL.String(), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("submit order: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var accepted struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(body, &accepted); err != nil {
		return "", err
	}

	logrus.WithField("order_id", accepted.OrderID).Info("order submitted")
	return accepted.OrderID, nil
}

func printStreamMessage(_ context.Context, message []byte) error {
	var msg observer.StreamMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return err
	}

	logger := logrus.WithFields(logrus.Fields{
		"type":     msg.Type,
		"order_id": msg.OrderID,
	})

	switch msg.Type {
	case observer.MessageHistory:
		for _, entry := range msg.Entries {
			fields := logrus.Fields{"status": entry.Status}
			if entry.SelectedVenue != "" {
				fields["venue"] = entry.SelectedVenue
			}
			if entry.ExecutedPrice != nil {
				fields["executed_price"] = entry.ExecutedPrice.String()
			}
			if entry.SettlementRef != "" {
				fields["settlement_ref"] = entry.SettlementRef
			}
			if entry.ErrorDetail != "" {
				fields["error"] = entry.ErrorDetail
			}
			logger.WithFields(fields).Info("status")
		}
	case observer.MessageSnapshot:
		if msg.Order != nil {
			logger.WithField("status", msg.Order.Status).Debug("snapshot")
		}
	case observer.MessageLoopCycleStart:
		logger.WithFields(logrus.Fields{
			"previous_order_id": msg.PreviousOrderID,
			"cycle":             msg.Cycle,
		}).Info("next cycle")
	case observer.MessageError:
		logger.Error(msg.Error)
	default:
		logger.Info("connected")
	}

	return nil
}
