package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"

	"github.com/uplo-tech/atomicupdate/atomic"
	"github.com/uplo-tech/atomicupdate/bus"
	"github.com/uplo-tech/atomicupdate/crypto"
	"github.com/uplo-tech/atomicupdate/image"
	"github.com/uplo-tech/atomicupdate/step"
	"github.com/uplo-tech/atomicupdate/uptane"
	"github.com/uplo-tech/ratelimit"
)

var secondaryConfigPath string

func secondaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secondary",
		Short: "Run as a Secondary, listening for a transaction",
		Run:   runSecondary,
	}
	cmd.Flags().StringVarP(&secondaryConfigPath, "config", "c", "secondary.json", "path to the secondary config file")
	return cmd
}

func runSecondary(*cobra.Command, []string) {
	var cfg secondaryConfig
	if err := loadConfig(secondaryConfigPath, &cfg); err != nil {
		die(err)
	}

	b, err := bus.NewMulticastBus(cfg.Bus.WakeGroup, cfg.Bus.MsgGroup, ratelimit.NewRateLimit(0, 0, 0))
	if err != nil {
		die("could not open bus:", err)
	}
	defer b.Close()

	pbs := mpb.New(mpb.WithWidth(40))
	spinner := pbs.AddSpinner(1, mpb.SpinnerOnLeft,
		mpb.SpinnerStyle([]string{"∙∙∙", "●∙∙", "∙●∙", "∙∙●", "∙∙∙"}),
		mpb.PrependDecorators(decor.Name(cfg.Serial+" listening", decor.WC{W: 20})),
	)

	sec := atomic.New(cfg.Serial, b, newInstaller(cfg), cfg.Timeout, cfg.RecoverPath)
	sec.Timing = &image.TransferTiming{}
	err = sec.Listen()
	spinner.Increment()
	pbs.Wait()
	if err != nil {
		die("secondary listen failed:", err)
	}
	fmt.Printf("%s reached state %s\n", cfg.Serial, sec.State)
	if mean, stddev := sec.Timing.Summary(); mean > 0 {
		fmt.Printf("chunk write time: %.2fms mean, %.2fms stddev\n", mean, stddev)
	}
}

// newInstaller builds the BinaryInstaller that actually applies a staged
// self-update; it signs reports with a throwaway ed25519 key, since this
// skeleton CLI has no provisioned per-ECU signing identity.
func newInstaller(cfg secondaryConfig) step.Step {
	sk, pk := crypto.GenerateKeyPair()
	return &step.BinaryInstaller{
		Serial:  cfg.Serial,
		WorkDir: cfg.WorkDir,
		Sign: func(serial string, state bus.State, installed bool) uptane.TufSigned {
			body, _ := json.Marshal(struct {
				Serial    string    `json:"serial"`
				State     string    `json:"state"`
				Installed bool      `json:"installed"`
				Time      time.Time `json:"time"`
			}{serial, string(state), installed, time.Now()})
			hash := crypto.HashBytes(body)
			sig := crypto.SignHash(hash, sk)
			return uptane.TufSigned{
				Signed: body,
				Signatures: []uptane.Signature{{
					KeyID:   hex.EncodeToString(pk[:]),
					SigType: uptane.Ed25519,
					Sig:     hex.EncodeToString(sig[:]),
				}},
			}
		},
	}
}
