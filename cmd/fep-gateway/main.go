package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/paynet/fep/go/registry"
	"github.com/paynet/fep/go/runtime"
	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"
	"go.gazette.dev/core/task"
)

const iniFilename = "fep.ini"

// Config is the top-level configuration object of a FEP gateway.
var Config = new(struct {
	Gateway struct {
		Config        string        `long:"config" env:"CONFIG" description:"Path to the channel configuration file"`
		ConfigPoll    time.Duration `long:"config.poll" env:"CONFIG_POLL" default:"5s" description:"Interval between configuration reload checks"`
		Strict        bool          `long:"config.strict" env:"CONFIG_STRICT" description:"Reject configuration documents containing any invalid entry"`
		AdminPort     uint16        `long:"admin.port" env:"ADMIN_PORT" default:"8180" description:"Port of the admin HTTP API"`
		SQLite        string        `long:"store.sqlite" env:"STORE_SQLITE" description:"Path of the transaction database (empty: in-memory)"`
		AuditBrokers  []string      `long:"audit.broker" env:"AUDIT_BROKERS" env-delim:"," description:"Kafka broker address of the audit stream (may be repeated; empty: disabled)"`
		AuditTopic    string        `long:"audit.topic" env:"AUDIT_TOPIC" default:"fep-audit" description:"Kafka topic of the audit stream"`
		SweepInterval time.Duration `long:"sched.sweep" env:"SCHED_SWEEP" default:"1h" description:"Interval between scheduled-transfer sweeps"`
		DedupRetain   time.Duration `long:"dedup.retention" env:"DEDUP_RETENTION" description:"Retention of transaction fingerprints (empty: derived from timeouts)"`
	} `group:"Gateway" namespace:"gateway" env-namespace:"GATEWAY"`

	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
})

type cmdServe struct{}

func (cmdServe) Execute(_ []string) error {
	defer mbp.InitDiagnosticsAndRecover(Config.Diagnostics)()
	mbp.InitLog(Config.Log)

	log.WithFields(log.Fields{
		"config":    Config,
		"version":   mbp.Version,
		"buildDate": mbp.BuildDate,
	}).Info("fep-gateway configuration")

	var rtCfg = runtime.Config{
		SQLitePath:     Config.Gateway.SQLite,
		KafkaBrokers:   Config.Gateway.AuditBrokers,
		KafkaTopic:     Config.Gateway.AuditTopic,
		ConfigPoll:     Config.Gateway.ConfigPoll,
		Strict:         Config.Gateway.Strict,
		SweepInterval:  Config.Gateway.SweepInterval,
		DedupRetention: Config.Gateway.DedupRetain,
	}
	if Config.Gateway.Config != "" {
		rtCfg.ConfigSource = registry.FileSource(Config.Gateway.Config)
	}

	var gateway, err = runtime.NewGateway(rtCfg)
	if err != nil {
		return fmt.Errorf("building gateway: %w", err)
	}

	admin, err := runtime.NewAdminServer(gateway, fmt.Sprintf(":%d", Config.Gateway.AdminPort))
	if err != nil {
		return fmt.Errorf("binding admin listener: %w", err)
	}

	var tasks = task.NewGroup(context.Background())
	gateway.QueueTasks(tasks)
	admin.QueueTasks(tasks)

	log.WithField("admin", admin.Addr()).Info("starting fep-gateway")

	// Install signal handler & start gateway tasks.
	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	tasks.Queue("watch signalCh", func() error {
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig).Info("caught signal")
			tasks.Cancel()
			return nil
		case <-tasks.Context().Done():
			return nil
		}
	})
	tasks.GoRun()

	// Block until all tasks complete.
	if err = tasks.Wait(); err != nil {
		return fmt.Errorf("task failed: %w", err)
	}
	gateway.Stop()

	log.Info("goodbye")
	return nil
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	_, _ = parser.AddCommand("serve", "Serve as FEP gateway", `
Serve a FEP gateway with the provided configuration, until signaled to
exit (via SIGTERM).
`, &cmdServe{})

	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.MustParseConfig(parser, iniFilename)
}
