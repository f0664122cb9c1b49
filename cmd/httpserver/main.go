package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/ruteri/exposure-keyserver-client/cmd/flags"
	"github.com/ruteri/exposure-keyserver-client/cryptoutils"
	"github.com/ruteri/exposure-keyserver-client/httpserver"
	"github.com/urfave/cli/v2"
)

var extraBearerTokensFlag = &cli.StringSliceFlag{
	Name:  "extra-bearer-token",
	Usage: "additional bearer token accepted by new-key-claim, may be repeated",
}

func main() {
	app := &cli.App{
		Name:  "keyserver-stub",
		Usage: "Serve an in-memory exposure key server for client and load testing",
		Flags: slices.Concat(flags.LogFlags, flags.ServerFlags, flags.SecretFlags, []cli.Flag{
			flags.RegionFlag,
			extraBearerTokensFlag,
		}),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			creds, err := flags.Credentials(cCtx, logger)
			if err != nil {
				logger.Error("Failed to resolve credentials", "err", err)
				return err
			}
			if err := creds.Require(true, true); err != nil {
				return err
			}

			signer, err := cryptoutils.NewRetrievalSigner(creds.HMACKeyHex)
			if err != nil {
				return fmt.Errorf("invalid HMAC key: %w", err)
			}

			tokens := append([]string{creds.BearerToken}, cCtx.StringSlice(extraBearerTokensFlag.Name)...)

			server, err := httpserver.New(flags.ConfigureServer(cCtx, logger), &httpserver.HandlerConfig{
				Region:       cCtx.String(flags.RegionFlag.Name),
				Signer:       signer,
				BearerTokens: tokens,
				Log:          logger,
			})
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop", "region", cCtx.String(flags.RegionFlag.Name))
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
