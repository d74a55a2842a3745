package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"

	"github.com/uplo-tech/atomicupdate/atomic"
	"github.com/uplo-tech/atomicupdate/bus"
	"github.com/uplo-tech/atomicupdate/image"
	"github.com/uplo-tech/ratelimit"
)

var primaryConfigPath string

func primaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "primary",
		Short: "Run as the Primary, driving a transaction to completion",
		Run:   runPrimary,
	}
	cmd.Flags().StringVarP(&primaryConfigPath, "config", "c", "primary.json", "path to the primary config file")
	return cmd
}

func runPrimary(*cobra.Command, []string) {
	var cfg primaryConfig
	if err := loadConfig(primaryConfigPath, &cfg); err != nil {
		die(err)
	}

	b, err := bus.NewMulticastBus(cfg.Bus.WakeGroup, cfg.Bus.MsgGroup, ratelimit.NewRateLimit(0, 0, 0))
	if err != nil {
		die("could not open bus:", err)
	}
	defer b.Close()

	payloads, images, err := buildPayloads(cfg)
	if err != nil {
		die("could not build payloads:", err)
	}

	primary := atomic.New(payloads, images, nil, b, cfg.Timeout, cfg.RecoverPath)

	pbs := mpb.New(mpb.WithWidth(40))
	bar := pbs.AddBar(int64(len(payloads)),
		mpb.PrependDecorators(decor.Name("committing ", decor.WC{W: 12})),
		mpb.AppendDecorators(decor.CountersNoUnit("%d / %d")),
	)

	if err := primary.Commit(); err != nil {
		bar.Abort(false)
		pbs.Wait()
		die("commit failed:", err)
	}
	bar.SetCurrent(int64(len(primary.Committed())))
	pbs.Wait()
	fmt.Printf("committed: %v\n", primary.Committed())
}

func buildPayloads(cfg primaryConfig) (atomic.Payloads, map[string]*image.Reader, error) {
	payloads := make(atomic.Payloads, len(cfg.Payloads))
	for serial, byState := range cfg.Payloads {
		states := make(map[atomic.State]atomic.Payload, len(byState))
		for stateName, p := range byState {
			states[atomic.State(stateName)] = bus.Payload{Tag: bus.PayloadTag(p.Tag), Data: p.Data}
		}
		payloads[serial] = states
	}

	images := make(map[string]*image.Reader, len(cfg.Images))
	for name, dir := range cfg.Images {
		reader, err := image.NewReader(dir, name)
		if err != nil {
			return nil, nil, err
		}
		images[name] = reader
	}
	return payloads, images, nil
}
