package main

import (
	"context"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/bootstrap"
	"github.com/go-i2p/go-i2p-core/lib/config"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/netdb"
	"github.com/go-i2p/go-i2p-core/lib/router"
	"github.com/go-i2p/go-i2p-core/lib/tunnel"
	"github.com/go-i2p/go-i2p-core/lib/util"
	"github.com/go-i2p/go-i2p-core/lib/util/clock"
	"github.com/go-i2p/go-i2p-core/lib/util/signals"
	"github.com/go-i2p/logger"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var publish string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a router with peers from the peer file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.NewFromViper()
			id, err := identity.LoadOrCreate(cfg.Router.IdentityFile)
			if err != nil {
				return err
			}

			var clk clock.Clock = clock.System{}
			if cfg.Clock.NTPEnabled {
				ntp := clock.NewNTP(nil, cfg.Clock.Servers, cfg.Clock.Concurring, cfg.Clock.QueryTimeout, cfg.Clock.Interval)
				ntp.Start()
				defer ntp.Stop()
				clk = ntp
			}

			db := netdb.NewMemoryPeerDB()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			if _, err := bootstrap.Seed(ctx, db, bootstrap.NewFileBootstrap(cfg.Router.PeersFile), 0); err != nil {
				log.WithError(err).Warn("starting without peers")
			}
			cancel()

			r, err := router.New(cfg, id, db, clk)
			if err != nil {
				return err
			}
			if err := r.Start(); err != nil {
				return err
			}
			util.RegisterCloser(r)

			if publish != "" {
				if err := bootstrap.WritePeers(publish, []netdb.PeerRecord{r.Record(netdb.CapReachable)}); err != nil {
					log.WithError(err).Warn("could not publish own record")
				}
			}

			var pools []*tunnel.Pool
			if db.Size() > 0 {
				out := r.NewPool(tunnel.Outbound, tunnel.Exploratory)
				in := r.NewPool(tunnel.Inbound, tunnel.Exploratory)
				in.Pair(out)
				pools = append(pools, out, in)
				for _, p := range pools {
					p.Start()
				}
			}

			signals.RegisterReloadHandler(func() {
				config.InitConfig()
				log.WithFields(logger.Fields{"at": "run"}).Info("configuration reloaded")
			})
			signals.RegisterInterruptHandler(func() {
				for _, p := range pools {
					p.Stop()
				}
				if err := util.CloseAll(); err != nil {
					log.WithFields(logger.Fields{"at": "run"}).WithError(err).Warn("shutdown incomplete")
				}
				signals.StopHandle()
			})
			go signals.Handle()

			r.Wait()
			return nil
		},
	}
	cmd.Flags().StringVar(&publish, "publish", "", "write this router's peer entry to a YAML file")
	return cmd
}
