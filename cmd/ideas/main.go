// Command ideas builds an investment-ideas digest once and prints it, without Telegram.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ykvlv/fin-assistant-bot/internal/app"
	"github.com/ykvlv/fin-assistant-bot/internal/config"
	"github.com/ykvlv/fin-assistant-bot/internal/domain"
	"github.com/ykvlv/fin-assistant-bot/internal/ideas"
	"github.com/ykvlv/fin-assistant-bot/internal/logger"
)

type ideaJSON struct {
	ID         string   `json:"id"`
	Class      string   `json:"class"`
	Tag        string   `json:"tag,omitempty"`
	Score      float64  `json:"score"`
	Price      *float64 `json:"price,omitempty"`
	Sources    []string `json:"sources"`
	MaxFactAge string   `json:"max_fact_age"`
}

type digestJSON struct {
	ID         string     `json:"id"`
	Risk       string     `json:"risk"`
	BuiltAt    time.Time  `json:"built_at"`
	Considered int        `json:"considered"`
	Partial    bool       `json:"partial"`
	Ideas      []ideaJSON `json:"ideas"`
}

func toJSON(risk domain.Risk, d ideas.Digest) digestJSON {
	out := digestJSON{
		ID:         d.ID.String(),
		Risk:       string(risk),
		BuiltAt:    d.BuiltAt,
		Considered: d.Considered,
		Partial:    d.Partial,
		Ideas:      make([]ideaJSON, 0, len(d.Ideas)),
	}
	for _, c := range d.Ideas {
		item := ideaJSON{
			ID:         c.Instrument.ID,
			Class:      string(c.Instrument.Class),
			Tag:        c.Instrument.Tag,
			Score:      c.Score,
			Sources:    c.Sources(),
			MaxFactAge: c.MaxFactAge.Round(time.Minute).String(),
		}
		if p, ok := c.Price(); ok {
			item.Price = &p
		}
		out.Ideas = append(out.Ideas, item)
	}
	return out
}

func main() {
	var (
		riskFlag string
		logLevel string
	)

	root := &cobra.Command{
		Use:           "ideas",
		Short:         "Offline tools for the investment-ideas pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "debug|info|warn|error")

	setup := func() (config.Config, *zap.Logger, error) {
		cfg, err := config.LoadTools()
		if err != nil {
			return cfg, nil, err
		}
		log, err := logger.New("fin-assistant-ideas", logLevel, logger.Console())
		return cfg, log, err
	}

	build := &cobra.Command{
		Use:   "build",
		Short: "Build one digest for a risk profile and print it as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			risk, err := domain.ParseRisk(riskFlag)
			if err != nil {
				return err
			}
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			p, err := app.NewPipeline(cmd.Context(), cfg, log, nil)
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()

			d := p.Service.BuildFor(cmd.Context(), risk)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(toJSON(risk, d))
		},
	}
	build.Flags().StringVar(&riskFlag, "risk", string(domain.RiskBalanced), "conservative|balanced|aggressive")

	universe := &cobra.Command{
		Use:   "universe",
		Short: "List the instruments considered for a risk profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			risk, err := domain.ParseRisk(riskFlag)
			if err != nil {
				return err
			}
			cfg, err := config.LoadTools()
			if err != nil {
				return err
			}
			u, err := ideas.LoadUniverse(cfg.Ideas.UniversePath)
			if err != nil {
				return err
			}
			for _, in := range u.For(risk) {
				fmt.Fprintf(cmd.OutOrStdout(), "%-14s %-7s %-5s %v\n", in.ID, in.Class, in.Board, in.RequiredKinds())
			}
			return nil
		},
	}
	universe.Flags().StringVar(&riskFlag, "risk", string(domain.RiskBalanced), "conservative|balanced|aggressive")

	root.AddCommand(build, universe)
	if err := root.ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
