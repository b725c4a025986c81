package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"lurkbot/internal/config"
	"lurkbot/internal/provider"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check configuration, store and provider health",
		Long: `Verifies that lurkbot's configuration, store and AI providers are
correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("lurkbot status v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r report

			if _, err := os.Stat(config.ExpandPath(cfgPath)); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s, using defaults and environment", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			cfg, _, err := loadConfig()
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			if cfg.Discord.Token == "" {
				r.fail("Discord token", "missing (set DISCORD_BOT_TOKEN)")
			} else {
				r.pass("Discord token", "configured")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			if db, err := openStore(ctx, cfg); err != nil {
				r.fail("Store", err.Error())
			} else {
				v, verr := db.SchemaVersion(ctx)
				servers, lerr := db.ListServers(ctx)
				db.Close()
				switch {
				case verr != nil:
					r.fail("Store", verr.Error())
				case lerr != nil:
					r.fail("Store", lerr.Error())
				default:
					r.pass("Store", fmt.Sprintf("%s, schema v%d, %d server(s)", cfg.Store.Driver, v, len(servers)))
				}
			}

			health := provider.NewFactory(cfg, logger).HealthReport(ctx)
			if len(health) == 0 {
				r.fail("Providers", "no providers enabled")
			}
			for name, herr := range health {
				label := "Provider: " + name
				if name == cfg.AI.DefaultProvider {
					label += " *"
				}
				if herr != nil {
					r.warn(label, herr.Error())
				} else {
					r.pass(label, "healthy")
				}
			}

			if cfg.Metrics.Enabled {
				if err := checkAddr(cfg.Metrics.Addr); err != nil {
					r.warn("Metrics addr", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
				} else {
					r.pass("Metrics addr", cfg.Metrics.Addr+" available")
				}
			}

			return r.summary()
		},
	}
}

type report struct {
	passed, warned, failed int
}

func (r *report) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-22s %s\n", check, detail)
}

func (r *report) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-22s %s\n", check, detail)
}

func (r *report) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-22s %s\n", check, detail)
}

func (r *report) summary() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	return nil
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
