package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/trickstertwo/xrv"
)

type sendOptions struct {
	id       string
	encoding string
	metadata map[string]string
	repeat   int
}

func newSendCmd(a *app) *cobra.Command {
	var o sendOptions
	cmd := &cobra.Command{
		Use:   "send SUBJECT PAYLOAD",
		Short: "Send PAYLOAD to SUBJECT",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.send(cmd.Context(), cmd.OutOrStdout(), args[0], []byte(args[1]), o)
		},
	}
	cmd.Flags().StringVar(&o.id, "id", "", "message id (default: generated)")
	cmd.Flags().StringVar(&o.encoding, "encoding", "", "content encoding, e.g. UTF-8")
	cmd.Flags().StringToStringVarP(&o.metadata, "meta", "m", nil, "metadata key=value pairs")
	cmd.Flags().IntVar(&o.repeat, "repeat", 1, "send the message this many times")
	return cmd
}

func (a *app) send(ctx context.Context, out io.Writer, subject string, payload []byte, o sendOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := a.builder()
	if err != nil {
		return err
	}
	p, err := b.BuildProducer(xrv.ConstantDestination(subject))
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()
	if err := p.Init(ctx); err != nil {
		return err
	}
	if err := p.Start(); err != nil {
		return err
	}

	keys := make([]string, 0, len(o.metadata))
	for k := range o.metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for i := 0; i < max(1, o.repeat); i++ {
		m := xrv.NewMessage(payload)
		if o.id != "" {
			m.SetID(o.id)
		}
		if o.encoding != "" {
			m.SetContentEncoding(o.encoding)
		}
		for _, k := range keys {
			m.AddMetadata(k, o.metadata[k])
		}
		if err := p.Produce(ctx, m); err != nil {
			return err
		}
		fmt.Fprintf(out, "sent %s id=%s\n", subject, m.ID())
	}
	return nil
}
