package main

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/go-i2p-core/lib/config"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/netdb"
	"github.com/go-i2p/go-i2p-core/lib/router"
	"github.com/go-i2p/go-i2p-core/lib/transport"
	"github.com/go-i2p/go-i2p-core/lib/tunnel"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const selftestRouters = 5

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

type step struct {
	name   string
	detail string
	took   time.Duration
	err    error
}

type selftest struct {
	routers []*router.Router
	got     chan []byte
	steps   []step
}

func selftestCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Run a loopback router set and send a message through a tunnel pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			st := &selftest{got: make(chan []byte, 1)}
			defer st.stop()
			err := st.run(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), st.table())
			return err
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall time limit")
	return cmd
}

func (st *selftest) record(name string, start time.Time, err error, detail string) error {
	st.steps = append(st.steps, step{name: name, detail: detail, took: time.Since(start), err: err})
	return err
}

func (st *selftest) run(ctx context.Context) error {
	cfg := config.Defaults()
	cfg.Stream.ListenAddress = "127.0.0.1:0"
	cfg.Datagram.ListenAddress = "127.0.0.1:0"
	db := netdb.NewMemoryPeerDB()

	start := time.Now()
	st.routers = make([]*router.Router, selftestRouters)
	var g errgroup.Group
	for i := range st.routers {
		g.Go(func() error {
			id, err := identity.Generate()
			if err != nil {
				return err
			}
			r, err := router.New(cfg, id, db, nil)
			if err != nil {
				return err
			}
			if err := r.Start(); err != nil {
				return err
			}
			st.routers[i] = r
			return db.Store(r.Record(netdb.CapReachable))
		})
	}
	if err := st.record("start routers", start, g.Wait(), fmt.Sprintf("%d on loopback", selftestRouters)); err != nil {
		return err
	}

	a, b, c, d, e := st.routers[0], st.routers[1], st.routers[2], st.routers[3], st.routers[4]
	a.OnTunnelMessage(func(id tunnel.ID, payload []byte) {
		select {
		case st.got <- append([]byte(nil), payload...):
		default:
		}
	})

	start = time.Now()
	err := a.OpenSession(ctx, b.Hash(), transport.Stream)
	if err := st.record("stream session", start, err, identity.Short(b.Hash())); err != nil {
		return err
	}
	start = time.Now()
	err = a.OpenSession(ctx, c.Hash(), transport.Datagram)
	if err := st.record("datagram session", start, err, identity.Short(c.Hash())); err != nil {
		return err
	}

	start = time.Now()
	out, err := a.BuildTunnel(ctx, []common.Hash{b.Hash(), c.Hash(), d.Hash()}, tunnel.Outbound, tunnel.Client)
	if err := st.record("outbound tunnel", start, err, fmt.Sprintf("3 hops, id %d", out.ID)); err != nil {
		return err
	}
	start = time.Now()
	in, err := a.BuildTunnel(ctx, []common.Hash{e.Hash(), d.Hash(), c.Hash()}, tunnel.Inbound, tunnel.Client)
	if err := st.record("inbound tunnel", start, err, fmt.Sprintf("3 hops, id %d", in.ID)); err != nil {
		return err
	}

	start = time.Now()
	payload := []byte("selftest round trip")
	reply, err := a.ReplyDelivery(in.ID)
	if err == nil {
		err = a.SendThroughTunnel(ctx, out.ID, reply, payload)
	}
	if err == nil {
		select {
		case got := <-st.got:
			if !bytes.Equal(got, payload) {
				err = oops.Errorf("payload mismatch")
			}
		case <-ctx.Done():
			err = oops.Wrapf(ctx.Err(), "waiting for round trip")
		}
	}
	return st.record("round trip", start, err, fmt.Sprintf("%d bytes through 6 hops", len(payload)))
}

func (st *selftest) stop() {
	for _, r := range st.routers {
		if r != nil {
			r.Stop()
		}
	}
}

func (st *selftest) table() string {
	rows := make([][]string, 0, len(st.steps))
	for _, s := range st.steps {
		result, detail := okStyle.Render("ok"), s.detail
		if s.err != nil {
			result, detail = failStyle.Render("fail"), s.err.Error()
		}
		rows = append(rows, []string{s.name, result, s.took.Round(time.Millisecond).String(), detail})
	}
	return table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("step", "result", "time", "detail").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Render()
}
