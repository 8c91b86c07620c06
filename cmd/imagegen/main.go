package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nguyen2715-hue/web/internal/batch"
	"github.com/nguyen2715-hue/web/internal/domain"
	"github.com/nguyen2715-hue/web/internal/domain/jsoncfg"
	"github.com/nguyen2715-hue/web/internal/imagegen"
	"github.com/nguyen2715-hue/web/internal/infra"
	"github.com/nguyen2715-hue/web/internal/infra/credentials"
	"github.com/nguyen2715-hue/web/internal/metrics"
	"github.com/nguyen2715-hue/web/internal/overlay"
	"github.com/nguyen2715-hue/web/internal/storage"
)

type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }
func (l *listFlag) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

func main() {
	var (
		outlinePath  string
		providerFlag string
		outDir       string
		aspectFlag   string
		timeoutFlag  time.Duration
		models       listFlag
		products     listFlag
	)
	flag.StringVar(&outlinePath, "outline", "", "path to the outline JSON document")
	flag.Var(&models, "model", "model reference image (repeatable or comma separated)")
	flag.Var(&products, "product", "product reference image (repeatable or comma separated)")
	flag.StringVar(&providerFlag, "provider", "whisk", "whisk (reference workflow with Gemini fallback) or gemini")
	flag.StringVar(&outDir, "out", "", "output directory (defaults to STORAGE_PATH)")
	flag.StringVar(&aspectFlag, "aspect", string(domain.AspectPortrait), "aspect ratio: 9:16, 16:9 or 1:1")
	flag.DurationVar(&timeoutFlag, "timeout", 0, "per-item provider timeout (defaults to WHISK_TIMEOUT_SECONDS)")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "imagegen").Logger()

	if strings.TrimSpace(outlinePath) == "" {
		fmt.Fprintln(os.Stderr, "-outline is required")
		os.Exit(2)
	}
	mode, err := imagegen.ParseMode(providerFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	raw, err := os.ReadFile(outlinePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read outline: %v\n", err)
		os.Exit(1)
	}
	outline, err := jsoncfg.ParseOutline(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "outline: %v\n", err)
		os.Exit(1)
	}
	if outDir == "" {
		outDir = cfg.StoragePath
	}
	if timeoutFlag <= 0 {
		timeoutFlag = cfg.WhiskTimeout
	}

	// ctx is only cancelled on a second interrupt; the first one stops the
	// batch after the item in flight.
	ctx, hardStop := context.WithCancel(context.Background())
	defer hardStop()

	pool := credentials.NewPoolFromConfig(&logger, cfg, nil)
	if err := pool.Refresh(ctx); err != nil {
		logger.Warn().Err(err).Msg("credential refresh failed")
	}
	files, err := storage.NewFileStore(outDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage: %v\n", err)
		os.Exit(1)
	}

	progress := domain.ProgressSink(func(msg string) {
		fmt.Fprintln(os.Stderr, msg)
	})
	collector := metrics.NewCollector("imagegen")
	stack, err := imagegen.BuildStack(cfg, pool, imagegen.StackOptions{
		Mode:       mode,
		HTTPClient: &http.Client{},
		Logger:     &logger,
		Progress:   progress,
		Metrics:    collector,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "providers: %v\n", err)
		os.Exit(1)
	}

	pipeline := batch.NewPipeline(batch.Options{
		Pacer:   stack.Gate,
		Overlay: overlay.NewBanner(),
		Store:   files,
		Logger:  &logger,
		Metrics: collector,
		Observer: func(e batch.Event) {
			fmt.Fprintf(os.Stderr, "[%s] %s\n", strings.ToUpper(string(e.Severity)), e.Message)
		},
	})

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		<-signals
		fmt.Fprintln(os.Stderr, "stopping after the current item (interrupt again to abort)")
		pipeline.Cancel()
		<-signals
		hardStop()
	}()

	items := outline.Items(jsoncfg.ItemOptions{
		ModelImages:   models,
		ProductImages: products,
		AspectRatio:   domain.NormalizeAspectRatio(aspectFlag),
		Timeout:       timeoutFlag,
	})
	summary := pipeline.Run(ctx, items, stack.Generator)

	for _, res := range summary.Results {
		if res.Succeeded() {
			fmt.Printf("%s\t%s\t%s\n", res.Item.Label(), res.Result.Provider, res.StorageKey)
		} else {
			fmt.Printf("%s\tfailed\t%s\n", res.Item.Label(), domain.Truncate(res.Err.Error(), 200))
		}
	}
	switch {
	case summary.Cancelled:
		os.Exit(130)
	case summary.Succeeded == 0 && summary.Failed > 0:
		os.Exit(1)
	}
}
