package ingestion

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
)

// runPollingForever is the last-resort ingestion path (spec §4.6): on a
// fixed interval, pull new signatures per enabled program and fetch/parse
// each one not already seen. It never fails to start, though it may find
// nothing.
func (c *Coordinator) runPollingForever(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	cursors := make(map[solana.PublicKey]solana.Signature)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx, cursors)
		}
	}
}

const pollSignatureLimit = 20

func (c *Coordinator) pollOnce(ctx context.Context, cursors map[solana.PublicKey]solana.Signature) {
	for _, program := range c.registry.Programs() {
		sigs, err := c.rpcMgr.GetSignaturesForAddress(ctx, program, pollSignatureLimit, cursors[program])
		if err != nil {
			c.stats.Errors.Add(1)
			continue
		}
		if len(sigs) == 0 {
			continue
		}
		// The RPC returns newest-first; advance the cursor to the newest
		// signature observed, then process oldest -> newest.
		cursors[program] = sigs[0].Signature
		for i := len(sigs) - 1; i >= 0; i-- {
			sig := sigs[i].Signature
			if c.dedup.SeenOrAdd(sig.String()) {
				continue
			}
			go c.fetchAndParse(ctx, sig, sigs[i].Slot)
		}
	}
}
