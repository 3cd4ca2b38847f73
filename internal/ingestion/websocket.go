package ingestion

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"solsniper"
)

// WSConn is the subset of *websocket.Conn this package depends on.
type WSConn interface {
	WriteJSON(v any) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// WSDialer abstracts dialing, so tests can inject an in-process fake
// connection instead of a live WebSocket endpoint.
type WSDialer interface {
	Dial(ctx context.Context, url string) (WSConn, error)
}

type defaultWSDialer struct{}

func (defaultWSDialer) Dial(ctx context.Context, url string) (WSConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type wsResponse struct {
	ID     int64 `json:"id"`
	Result int64 `json:"result"`
}

type wsNotification struct {
	Method string `json:"method"`
	Params struct {
		Subscription int64 `json:"subscription"`
		Result       struct {
			Value struct {
				Signature string   `json:"signature"`
				Err       any      `json:"err"`
				Logs      []string `json:"logs"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

// probeWebSocket checks that a WebSocket endpoint is configured and
// currently dialable, closing the probe connection immediately.
func (c *Coordinator) probeWebSocket(ctx context.Context) bool {
	if c.cfg.WSEndpoint == "" {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()
	conn, err := c.wsDialer.Dial(probeCtx, c.cfg.WSEndpoint)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// runWebSocketForever subscribes to per-program logs and reconnects with
// exponential backoff (spec §4.6: min(BASE*2^attempts, MAX)) on any error,
// until ctx is cancelled.
func (c *Coordinator) runWebSocketForever(ctx context.Context) {
	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := c.runWebSocketSession(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.stats.Errors.Add(1)
			c.logger.Warn("ingestion: websocket session ended", zap.Error(err), zap.Int("attempt", attempts))
		}
		delay := time.Duration(math.Min(
			float64(c.cfg.ReconnectBaseDelay)*math.Pow(2, float64(attempts)),
			float64(c.cfg.ReconnectMaxDelay),
		))
		attempts++
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *Coordinator) runWebSocketSession(ctx context.Context) error {
	conn, err := c.wsDialer.Dial(ctx, c.cfg.WSEndpoint)
	if err != nil {
		return err
	}
	defer conn.Close()

	subs := make(map[int64]solana.PublicKey)
	var nextID int64 = 1

	for _, program := range c.registry.Programs() {
		id := nextID
		nextID++
		req := wsRequest{
			JSONRPC: "2.0",
			ID:      id,
			Method:  "logsSubscribe",
			Params: []any{
				map[string]any{"mentions": []string{program.String()}},
				map[string]any{"commitment": "confirmed"},
			},
		}
		if err := conn.WriteJSON(req); err != nil {
			return err
		}
		subs[id] = program
	}

	subToDex := make(map[int64]solsniper.Dex)

	for {
		if ctx.Err() != nil {
			return nil
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var resp wsResponse
		if err := json.Unmarshal(raw, &resp); err == nil && resp.Result != 0 {
			if program, ok := subs[resp.ID]; ok {
				if d, ok := c.registry.DexForProgram(program); ok {
					subToDex[resp.Result] = d
				}
			}
			continue
		}

		var note wsNotification
		if err := json.Unmarshal(raw, &note); err != nil || note.Method != "logsNotification" {
			continue
		}
		if note.Params.Result.Value.Err != nil {
			continue
		}
		d, ok := subToDex[note.Params.Subscription]
		if !ok {
			continue
		}
		if !couldBePoolCreation(d, note.Params.Result.Value.Logs) {
			continue
		}

		sig, err := solana.SignatureFromBase58(note.Params.Result.Value.Signature)
		if err != nil {
			continue
		}
		if c.dedup.SeenOrAdd(sig.String()) {
			continue
		}
		go c.fetchAndParse(ctx, sig, 0)
	}
}
