package ingestion

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"

	"solsniper/internal/dex"
)

// GRPCUpdateKind tags a GRPCUpdate as carrying an account or a transaction.
type GRPCUpdateKind int

const (
	GRPCUpdateAccount GRPCUpdateKind = iota
	GRPCUpdateTransaction
)

// AccountUpdate is an account-update notification from the block-stream.
type AccountUpdate struct {
	Owner  solana.PublicKey
	Pubkey solana.PublicKey
	Data   []byte
	Slot   uint64
}

// TransactionUpdate is a transaction-update notification from the
// block-stream, already decoded into resolved instructions.
type TransactionUpdate struct {
	Signature    solana.Signature
	AccountKeys  []solana.PublicKey
	Instructions []dex.Instruction
	Slot         uint64
}

// GRPCUpdate is one item from a GRPCStreamer's subscription channel.
type GRPCUpdate struct {
	Kind        GRPCUpdateKind
	Account     *AccountUpdate
	Transaction *TransactionUpdate
}

// GRPCStreamer abstracts the block-stream provider's subscribe/stream
// surface (spec §4.6, §6 "gRPC subscription protocol"). No public Go client
// for this protocol appeared in the reference corpus, so production wiring
// stops at the raw grpc.ClientConn probe in probeGRPC; a concrete
// implementation of this interface is the integration point for whichever
// provider-specific generated client is later vendored (see DESIGN.md).
type GRPCStreamer interface {
	Subscribe(ctx context.Context, programs []solana.PublicKey) (<-chan GRPCUpdate, error)
}

// probeGRPC performs a short connectivity check against the configured
// gRPC endpoint (spec §4.6 step 2): dial, wait briefly for a non-idle
// transport state, then release the connection. A failure here marks gRPC
// unavailable for the lifetime of the run.
func (c *Coordinator) probeGRPC(ctx context.Context) bool {
	if c.cfg.GRPCEndpoint == "" {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	conn, err := grpc.NewClient(c.cfg.GRPCEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return false
	}
	defer conn.Close()

	conn.Connect()
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return true
		}
		if state == connectivity.TransientFailure || state == connectivity.Shutdown {
			return false
		}
		if !conn.WaitForStateChange(probeCtx, state) {
			return false
		}
	}
}

// runGRPCStream subscribes via the configured GRPCStreamer and forwards
// decoded PoolEvents until the subscription channel closes or ctx is done.
func (c *Coordinator) runGRPCStream(ctx context.Context) error {
	programs := c.registry.Programs()
	updates, err := c.grpcStreamer.Subscribe(ctx, programs)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return errGRPCStreamClosed
			}
			c.handleGRPCUpdate(ctx, upd)
		}
	}
}

func (c *Coordinator) handleGRPCUpdate(ctx context.Context, upd GRPCUpdate) {
	switch upd.Kind {
	case GRPCUpdateAccount:
		if upd.Account == nil {
			return
		}
		d, ok := c.registry.DexForProgram(upd.Account.Owner)
		if !ok {
			return
		}
		decoder := c.registry.Decoder(d)
		if decoder == nil {
			return
		}
		ev, err := decoder.ParseAccount(upd.Account.Pubkey, upd.Account.Data, upd.Account.Slot)
		if err != nil {
			c.stats.Errors.Add(1)
			return
		}
		c.publish(ctx, ev)
	case GRPCUpdateTransaction:
		if upd.Transaction == nil {
			return
		}
		sig := upd.Transaction.Signature.String()
		if c.dedup.SeenOrAdd(sig) {
			return
		}
		for _, d := range c.cfg.EnabledDexes {
			decoder := c.registry.Decoder(d)
			if decoder == nil {
				continue
			}
			ev, err := decoder.ParseTransaction(upd.Transaction.Signature, upd.Transaction.AccountKeys, upd.Transaction.Instructions, upd.Transaction.Slot)
			if err != nil {
				c.stats.Errors.Add(1)
				continue
			}
			if ev != nil {
				c.publish(ctx, ev)
				return
			}
		}
	}
}

var errGRPCStreamClosed = &grpcStreamClosedError{}

type grpcStreamClosedError struct{}

func (e *grpcStreamClosedError) Error() string { return "ingestion: grpc stream closed" }
