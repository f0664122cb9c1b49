package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/ruteri/exposure-keyserver-client/api/clients"
	"github.com/ruteri/exposure-keyserver-client/cmd/flags"
	"github.com/ruteri/exposure-keyserver-client/common"
	"github.com/ruteri/exposure-keyserver-client/cryptoutils"
	"github.com/ruteri/exposure-keyserver-client/interfaces"
	"github.com/ruteri/exposure-keyserver-client/loadtest"
	"github.com/ruteri/exposure-keyserver-client/metrics"
	"github.com/ruteri/exposure-keyserver-client/secrets"
	"github.com/ruteri/exposure-keyserver-client/tek"
	"github.com/urfave/cli/v2"
)

var flagTimestamp = &cli.Float64Flag{
	Name:  "timestamp",
	Usage: "unix timestamp in seconds to sign for, defaults to now",
}
var flagRuns = &cli.IntFlag{
	Name:  "runs",
	Value: 1,
	Usage: "number of submission runs",
}
var flagConcurrency = &cli.IntFlag{
	Name:  "concurrency",
	Value: loadtest.DefaultConcurrency,
	Usage: "submission runs in flight at a time",
}
var flagKeyCount = &cli.IntFlag{
	Name:  "keys",
	Value: tek.DefaultCount,
	Usage: "temporary exposure keys per upload",
}
var flagSweep = &cli.BoolFlag{
	Name:  "sweep",
	Usage: "after the submissions, retrieve the current hour and both neighbouring hours",
}
var flagMetricsAddr = &cli.StringFlag{
	Name:  "metrics-addr",
	Usage: "serve Prometheus metrics of the load run on this address",
}

func main() {
	app := &cli.App{
		Name:  "keyserver-client",
		Usage: "Sign retrievals and submit synthetic exposure keys to a key server",
		Flags: slices.Concat(flags.LogFlags, flags.ClientFlags, flags.SecretFlags),
		Commands: []*cli.Command{
			{
				Name:  "sign",
				Usage: "print the retrieval signature for a timestamp",
				Flags: []cli.Flag{flagTimestamp},
				Action: func(cCtx *cli.Context) error {
					c, err := newClient(cCtx, true, false)
					if err != nil {
						return err
					}
					return c.sign(cCtx)
				},
			},
			{
				Name:  "retrieve",
				Usage: "fetch and decode the key batch for a timestamp",
				Flags: []cli.Flag{flagTimestamp},
				Action: func(cCtx *cli.Context) error {
					c, err := newClient(cCtx, true, false)
					if err != nil {
						return err
					}
					return c.retrieve(cCtx)
				},
			},
			{
				Name:  "submit",
				Usage: "perform submission runs",
				Flags: []cli.Flag{flagRuns, flagConcurrency, flagKeyCount, flagSweep, flagMetricsAddr},
				Action: func(cCtx *cli.Context) error {
					c, err := newClient(cCtx, cCtx.Bool(flagSweep.Name), true)
					if err != nil {
						return err
					}
					return c.submit(cCtx)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type client struct {
	log   *slog.Logger
	creds secrets.Credentials
}

func newClient(cCtx *cli.Context, needHMAC, needBearer bool) (*client, error) {
	logger := flags.SetupLogger(cCtx)

	creds, err := flags.Credentials(cCtx, logger)
	if err != nil {
		return nil, fmt.Errorf("could not resolve credentials: %w", err)
	}
	if err := creds.Require(needHMAC, needBearer); err != nil {
		return nil, err
	}

	return &client{log: logger, creds: creds}, nil
}

func timestamp(cCtx *cli.Context) float64 {
	if cCtx.IsSet(flagTimestamp.Name) {
		return cCtx.Float64(flagTimestamp.Name)
	}
	return interfaces.UnixSeconds(time.Now())
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *client) retrievalClient(cCtx *cli.Context) (*clients.RetrievalClient, error) {
	signer, err := cryptoutils.NewRetrievalSigner(c.creds.HMACKeyHex)
	if err != nil {
		return nil, err
	}
	archive, err := flags.Archive(cCtx, c.log)
	if err != nil {
		return nil, err
	}
	return clients.NewRetrievalClient(flags.RetrievalURL(cCtx), signer, archive, flags.HTTPClient(cCtx), c.log), nil
}

func (c *client) sign(cCtx *cli.Context) error {
	signer, err := cryptoutils.NewRetrievalSigner(c.creds.HMACKeyHex)
	if err != nil {
		return err
	}

	sig, err := signer.Sign(timestamp(cCtx), cCtx.String(flags.RegionFlag.Name))
	if err != nil {
		return err
	}
	return printJSON(sig)
}

func (c *client) retrieve(cCtx *cli.Context) error {
	rc, err := c.retrievalClient(cCtx)
	if err != nil {
		return err
	}

	batch, err := rc.Retrieve(cCtx.Context, cCtx.String(flags.RegionFlag.Name), timestamp(cCtx))
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}

	export, err := batch.Export()
	if err != nil {
		return fmt.Errorf("could not decode batch: %w", err)
	}

	out := map[string]any{
		"region": export.Region,
		"period": batch.Signature.Period,
		"start":  export.StartTimestamp,
		"end":    export.EndTimestamp,
		"keys":   len(export.Keys),
	}
	if batch.ContentID != nil {
		out["contentID"] = batch.ContentID.String()
	}
	return printJSON(out)
}

func (c *client) submit(cCtx *cli.Context) error {
	archive, err := flags.Archive(cCtx, c.log)
	if err != nil {
		return err
	}

	metricsSrv, err := metrics.New(common.PackageName, cCtx.String(flagMetricsAddr.Name))
	if err != nil {
		return err
	}
	runMetrics := metrics.NewRunMetrics(metricsSrv.Registry(), metricsSrv.Namespace())
	if cCtx.IsSet(flagMetricsAddr.Name) {
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.log.Error("Metrics server failed", "err", err)
			}
		}()
		defer metricsSrv.Shutdown(cCtx.Context)
	}

	httpClient := flags.HTTPClient(cCtx)
	submitter := loadtest.NewSubmitter(loadtest.SubmitterConfig{
		ServerURL:   cCtx.String(flags.ServerURLFlag.Name),
		BearerToken: c.creds.BearerToken,
		KeyCount:    cCtx.Int(flagKeyCount.Name),
		HTTPClient:  httpClient,
		Archive:     archive,
		Metrics:     runMetrics,
		Log:         c.log,
	})

	summary := loadtest.NewRunner(submitter, cCtx.Int(flagConcurrency.Name)).Run(cCtx.Context, cCtx.Int(flagRuns.Name))
	if err := printJSON(summary); err != nil {
		return err
	}

	if cCtx.Bool(flagSweep.Name) {
		rc, err := c.retrievalClient(cCtx)
		if err != nil {
			return err
		}
		sweep := &loadtest.RetrievalSweep{
			Client:  rc,
			Region:  cCtx.String(flags.RegionFlag.Name),
			Metrics: runMetrics,
			Log:     c.log,
		}
		for _, r := range sweep.Run(cCtx.Context) {
			if r.Err != nil {
				summary.Failed++
			}
		}
	}

	if summary.Failed > 0 {
		return errors.New("some runs failed")
	}
	return nil
}
