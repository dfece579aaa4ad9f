package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/batterylog/cache"
	"github.com/TheCacophonyProject/batterylog/logging"
	"github.com/TheCacophonyProject/batterylog/pipeline"
	"github.com/TheCacophonyProject/batterylog/settings"
	arg "github.com/alexflint/go-arg"
)

var version = "No version provided"

var log = logging.NewLogger("info")

type Args struct {
	Addr          string        `arg:"--addr" help:"Address to listen on"`
	LogFile       string        `arg:"--log-file" help:"Battery log CSV to serve"`
	SettingsFile  string        `arg:"--settings-file" help:"JSON file holding the viewer settings"`
	RedisAddr     string        `arg:"--redis-addr" help:"Redis address for caching results, disabled when empty"`
	RedisPassword string        `arg:"--redis-password" help:"Redis password"`
	RedisDB       int           `arg:"--redis-db" help:"Redis database number"`
	CacheTTL      time.Duration `arg:"--cache-ttl" help:"How long cached results are kept"`
	logging.LogArgs
}

func (Args) Version() string {
	return version
}

var defaultArgs = Args{
	Addr:         "localhost:8081",
	LogFile:      "/var/log/battery_log.csv",
	SettingsFile: "/etc/cacophony/batterylog-settings.json",
	CacheTTL:     5 * time.Minute,
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

	var opts []pipeline.Option
	if args.RedisAddr != "" {
		rdb, err := cache.Dial(ctx, args.RedisAddr, args.RedisPassword, args.RedisDB)
		if err != nil {
			log.Warnf("Running without a cache: %v", err)
		} else {
			defer rdb.Close()
			log.Infof("Caching results in redis at %s for %s", args.RedisAddr, args.CacheTTL)
			opts = append(opts, pipeline.WithCache(cache.NewRedis(rdb, "batterylog:"), args.CacheTTL))
		}
	}

	store := settings.NewFileStore(args.SettingsFile, log)
	s := New(args.LogFile, store, opts, log)

	httpServer := &http.Server{
		Addr:              args.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Infof("Serving %s on %s", args.LogFile, args.Addr)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}
