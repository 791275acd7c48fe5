package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trickstertwo/xrv"
)

func newListenCmd(a *app) *cobra.Command {
	var (
		count   int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "listen SUBJECT",
		Short: "Print messages received on SUBJECT (wildcards allowed)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return a.listen(ctx, cmd.OutOrStdout(), args[0], count)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after this many messages (0 = run until interrupted)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "exit after this long")
	return cmd
}

// listen prints every message on subject until ctx is done or count
// messages were printed. It returns nil on deadline.
func (a *app) listen(ctx context.Context, out io.Writer, subject string, count int) error {
	b, err := a.builder()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu   sync.Mutex
		seen atomic.Int64
	)
	c, err := b.BuildConsumer(subject, func(hctx context.Context, m *xrv.Message) error {
		mu.Lock()
		defer mu.Unlock()
		if count > 0 && seen.Load() >= int64(count) {
			return nil
		}
		if _, err := fmt.Fprintln(out, formatMessage(hctx, m)); err != nil {
			return err
		}
		if n := seen.Add(1); count > 0 && n >= int64(count) {
			cancel()
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if err := c.Init(ctx); err != nil {
		return err
	}
	if err := a.serveMetrics(ctx); err != nil {
		return err
	}
	if err := c.Start(); err != nil {
		return err
	}
	a.logger.Info().Str("subject", subject).Str("consumer", c.String()).Msg("listening")

	<-ctx.Done()
	st := c.Stats()
	a.logger.Info().
		Str("received", strconv.FormatUint(st.Received, 10)).
		Str("delivered", strconv.FormatUint(st.Delivered, 10)).
		Str("dropped", strconv.FormatUint(st.Dropped, 10)).
		Msg("listener stopped")
	return nil
}

// formatMessage renders m on one line: subject, id, encoding, metadata
// sorted by key, then the payload.
func formatMessage(ctx context.Context, m *xrv.Message) string {
	var sb strings.Builder
	if s, ok := xrv.SubjectFromContext(ctx); ok {
		sb.WriteString(s)
		sb.WriteByte(' ')
	}
	sb.WriteString("id=")
	sb.WriteString(m.ID())
	if enc, ok := m.ContentEncoding(); ok {
		sb.WriteString(" enc=")
		sb.WriteString(enc)
	}
	md := m.Metadata().Map()
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%s", k, md[k])
	}
	sb.WriteString(" payload=")
	sb.Write(m.Payload())
	return sb.String()
}
