package viewer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/batterylog/client"
	"github.com/TheCacophonyProject/batterylog/export"
	"github.com/TheCacophonyProject/batterylog/logging"
	"github.com/TheCacophonyProject/batterylog/pipeline"
	"github.com/TheCacophonyProject/batterylog/render"
	"github.com/TheCacophonyProject/batterylog/settings"
	arg "github.com/alexflint/go-arg"
)

var version = "No version provided"

var log = logging.NewLogger("info")

type Args struct {
	Server       string        `arg:"--server" help:"Base URL of the batterylog server"`
	LogFile      string        `arg:"--log-file" help:"Read the battery log from this file instead of the server"`
	Range        string        `arg:"--range" help:"Time range (1h, 3h, 6h, 12h, 24h, 3d, 7d, 30d, all), defaults to the saved setting"`
	Day          string        `arg:"--day" help:"Show a single day (YYYY-MM-DD)"`
	Points       int           `arg:"--points" help:"Number of points to resample to, defaults to the saved setting"`
	Chart        string        `arg:"--chart" help:"Write the battery chart PNG here"`
	SystemChart  string        `arg:"--system-chart" help:"Write the CPU and RAM chart PNG here"`
	XLSX         string        `arg:"--xlsx" help:"Write the workbook here"`
	Width        int           `arg:"--width" help:"Chart width in pixels"`
	Height       int           `arg:"--height" help:"Chart height in pixels"`
	Watch        bool          `arg:"--watch" help:"Keep refreshing"`
	Interval     time.Duration `arg:"--interval" help:"Refresh interval in watch mode, defaults to the saved setting"`
	Timeout      time.Duration `arg:"--timeout" help:"Timeout for requests to the server"`
	Retries      int           `arg:"--retries" help:"Retries for requests to the server"`
	ReportEvents bool          `arg:"--report-events" help:"Report new anomalies as events"`
	DBus         bool          `arg:"--dbus" help:"Serve the latest summary on DBus"`
	InfluxURL    string        `arg:"--influx-url" help:"InfluxDB URL, export is disabled when empty"`
	InfluxToken  string        `arg:"--influx-token" help:"InfluxDB token"`
	InfluxOrg    string        `arg:"--influx-org" help:"InfluxDB organisation"`
	InfluxBucket string        `arg:"--influx-bucket" help:"InfluxDB bucket"`
	Device       string        `arg:"--device" help:"Device tag for exported points"`
	Save         bool          `arg:"--save" help:"Save the given range, day and points as the server defaults"`
	logging.LogArgs
}

func (Args) Version() string {
	return version
}

var defaultArgs = Args{
	Server:       "http://localhost:8081",
	Timeout:      10 * time.Second,
	Retries:      2,
	InfluxBucket: "battery",
}

func procArgs(input []string) (Args, error) {
	args := defaultArgs

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	return args, err
}

// config captures the saved settings and the command line into the
// config every refresh of this run uses.
func config(args Args, saved settings.Settings) pipeline.Config {
	cfg := pipeline.ConfigFromSettings(saved, pipeline.DefaultConfig())
	if args.Range != "" {
		cfg = cfg.WithRange(args.Range)
	}
	if args.Day != "" {
		cfg = cfg.WithDay(args.Day)
	}
	return cfg.WithTargetPoints(args.Points)
}

type settingsUpdater interface {
	UpdateSettings(ctx context.Context, update map[string]interface{}) error
}

// saveSelection sends the range, day and points given on the command line
// to the server settings. Unset flags are left alone.
func saveSelection(ctx context.Context, updater settingsUpdater, args Args) error {
	update := map[string]interface{}{}
	if args.Range != "" {
		update["timeRange"] = args.Range
	}
	if args.Day != "" {
		update["selectedDay"] = args.Day
	}
	if args.Points > 0 {
		update["targetPoints"] = args.Points
	}
	if len(update) == 0 {
		return nil
	}
	return updater.UpdateSettings(ctx, update)
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}

	log = logging.NewLogger(args.LogLevel)
	log.Info("Running version: ", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(args.Server, args.Timeout, args.Retries, log)
	saved, err := c.FetchSettings(ctx)
	var unavailable *client.ServiceUnavailableError
	if errors.As(err, &unavailable) {
		log.Warnf("Using default settings: %v", err)
	} else if err != nil {
		return err
	}
	cfg := config(args, saved)
	if args.Save {
		if err := saveSelection(ctx, c, args); errors.As(err, &unavailable) {
			log.Warnf("Failed to save settings: %v", err)
		} else if err != nil {
			return err
		}
	}
	log.Infof("Showing %s with %d points", cfg.Token(), cfg.TargetPoints)

	var logs pipeline.LogSource = c
	opts := []pipeline.Option{}
	if args.LogFile != "" {
		logs = client.FileSource{Path: args.LogFile}
	} else {
		opts = append(opts, pipeline.WithEstimations(c))
	}
	refresher := pipeline.NewRefresher(logs, log, opts...)

	v := &Viewer{
		refresher: refresher,
		outputs: Outputs{
			ChartPath:       args.Chart,
			SystemChartPath: args.SystemChart,
			XLSXPath:        args.XLSX,
			Chart:           render.Options{Width: args.Width, Height: args.Height},
		},
		log: log,
	}
	if args.ReportEvents {
		v.reporter = newAnomalyReporter(log)
	}
	if args.InfluxURL != "" {
		v.influx = export.NewInflux(export.InfluxConfig{
			URL:    args.InfluxURL,
			Token:  args.InfluxToken,
			Org:    args.InfluxOrg,
			Bucket: args.InfluxBucket,
			Device: args.Device,
		})
		defer v.influx.Close()
	}
	if args.DBus {
		log.Info("Starting DBus service")
		if err := startStatusService(refresher.Latest); err != nil {
			return fmt.Errorf("failed to start DBus service: %w", err)
		}
	}

	if !args.Watch {
		_, err := v.RefreshOnce(ctx, cfg)
		return err
	}

	interval := args.Interval
	if interval <= 0 {
		interval = saved.RefreshPeriod()
	}
	if interval <= 0 {
		log.Warn("Auto refresh is off in the saved settings, refreshing every minute")
		interval = time.Minute
	}
	log.Infof("Refreshing every %s", interval)
	return v.Watch(ctx, func() pipeline.Config { return cfg }, interval)
}
