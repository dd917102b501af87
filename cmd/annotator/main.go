package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	imageannotator "github.com/menta2k/image-annotator"
	"github.com/menta2k/image-annotator/internal/config"
	"github.com/menta2k/image-annotator/internal/utils"
	"github.com/menta2k/image-annotator/pkg/backend"
	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/cropper"
	"github.com/menta2k/image-annotator/pkg/labeler"
	"github.com/menta2k/image-annotator/pkg/llamacpp"
	"github.com/menta2k/image-annotator/pkg/ollama"
	"github.com/menta2k/image-annotator/pkg/proxy"
	"github.com/menta2k/image-annotator/pkg/server"
	"github.com/menta2k/image-annotator/pkg/workspace"
)

const usage = `usage: %s <command> [flags]

commands:
  serve     run the front-end server (/api proxy, /preview, /healthz)
  schema    list images and annotation sets
  upload    upload images, annotation files and zip archives
  render    draw an annotation set over its image and save it
  export    download the backend export archive
  suggest   propose annotation names with a vision model
  config    write the default configuration file
`

// common holds flags shared by every command
type common struct {
	configPath string
	debug      bool
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", config.GetConfigPath(), "configuration file (json or yaml)")
	fs.BoolVar(&c.debug, "debug", false, "enable debug logging")
}

func (c *common) setup() (*config.Config, *slog.Logger) {
	level := slog.LevelInfo
	if c.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(c.configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	return cfg, logger
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, filepath.Base(os.Args[0]))
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1], os.Args[2:])
	stop()

	if errors.Is(err, errUnknownCommand) {
		fmt.Fprintf(os.Stderr, usage, filepath.Base(os.Args[0]))
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

var errUnknownCommand = errors.New("unknown command")

func run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "serve":
		return runServe(ctx, args)
	case "schema":
		return runSchema(ctx, args)
	case "upload":
		return runUpload(ctx, args)
	case "render":
		return runRender(ctx, args)
	case "export":
		return runExport(ctx, args)
	case "suggest":
		return runSuggest(ctx, args)
	case "config":
		return runConfig(args)
	case "-h", "-help", "--help", "help":
		fmt.Printf(usage, filepath.Base(os.Args[0]))
		return nil
	default:
		return fmt.Errorf("%w: %s", errUnknownCommand, cmd)
	}
}

func newBackend(cfg *config.Config) *backend.Client {
	b, err := backend.NewClient(cfg.Backend.URL, cfg.BackendTimeout())
	if err != nil {
		log.Fatalf("Failed to create backend client: %v", err)
	}
	return b
}

func runServe(ctx context.Context, args []string) error {
	var c common
	var listen string
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	c.register(fs)
	fs.StringVar(&listen, "listen", "", "listen address (overrides server.listen)")
	fs.Parse(args)

	cfg, logger := c.setup()
	if listen == "" {
		listen = cfg.Server.Listen
	}

	px, err := proxy.New(cfg.Backend.URL, logger.With("component", "proxy"))
	if err != nil {
		return err
	}
	style, err := cfg.EditorStyle()
	if err != nil {
		return err
	}

	srv := server.New(newBackend(cfg), px, server.Options{
		Style:    style,
		Format:   cfg.Output.DefaultFormat,
		Quality:  cfg.Output.Quality,
		Lossless: cfg.Output.Lossless,
	}, logger)

	logger.Info("forwarding /api/", "backend", px.Target())
	return srv.ListenAndServe(ctx, listen)
}

func runSchema(ctx context.Context, args []string) error {
	var c common
	var expand bool
	fs := flag.NewFlagSet("schema", flag.ExitOnError)
	c.register(fs)
	fs.BoolVar(&expand, "expand", false, "also list the labels of every annotation set")
	fs.Parse(args)

	cfg, logger := c.setup()
	b := newAnnotator(cfg, logger).Browser()
	if err := b.Refresh(ctx); err != nil {
		return err
	}

	if expand {
		for _, row := range b.Rows() {
			if _, err := b.ToggleImage(ctx, row.Image); err != nil {
				return err
			}
		}
		for _, row := range b.Rows() {
			if row.Kind == workspace.RowAnnotationSet {
				b.ToggleSet(row.AnnotationID)
			}
		}
	}

	for _, row := range b.Rows() {
		fmt.Println(row)
	}
	return nil
}

func newAnnotator(cfg *config.Config, logger *slog.Logger) *imageannotator.Annotator {
	style, err := cfg.EditorStyle()
	if err != nil {
		log.Fatalf("Invalid editor style: %v", err)
	}
	return imageannotator.NewWithConfig(newBackend(cfg), imageannotator.Config{
		Analyzer:    cfg.AnalyzerConfig(),
		Crop:        cfg.CropConfig(),
		Style:       style,
		Concurrency: cfg.Upload.Concurrency,
	}, logger)
}

func runUpload(ctx context.Context, args []string) error {
	var c common
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	c.register(fs)
	fs.Parse(args)

	cfg, logger := c.setup()
	if fs.NArg() == 0 {
		return fmt.Errorf("no files given")
	}

	uploaded, err := newAnnotator(cfg, logger).UploadFiles(ctx, fs.Args()...)
	for _, name := range uploaded {
		fmt.Println(name)
	}
	if err != nil {
		return err
	}
	if len(uploaded) == 0 {
		return fmt.Errorf("nothing was uploaded")
	}
	return nil
}

func runRender(ctx context.Context, args []string) error {
	var c common
	var name, fileID, annotationID, format, out string
	var width, height int
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	c.register(fs)
	fs.StringVar(&name, "image", "", "image name as listed by schema")
	fs.StringVar(&fileID, "file-id", "", "image file id (instead of -image)")
	fs.StringVar(&annotationID, "annotation-id", "", "annotation set id (default: first set of the image)")
	fs.IntVar(&width, "width", 0, "container width, 0 = image width")
	fs.IntVar(&height, "height", 0, "container height, 0 = image height")
	fs.StringVar(&format, "format", "", "output format: png|jpg|webp (default output.default_format)")
	fs.StringVar(&out, "out", "", "output file (default derived from the image name)")
	fs.Parse(args)

	cfg, logger := c.setup()
	a := newAnnotator(cfg, logger)
	if format == "" {
		format = cfg.Output.DefaultFormat
	}

	schema, err := a.Backend().Schema(ctx)
	if err != nil {
		return err
	}
	if fileID == "" {
		entry, ok := schema[name]
		if !ok {
			return fmt.Errorf("image %q not found", name)
		}
		fileID = entry.ID
		if annotationID == "" && len(entry.Annotations) > 0 {
			annotationID = entry.Annotations[0]
		}
	} else if name == "" {
		name, _ = schema.FindByID(fileID)
	}
	if name == "" {
		name = fileID
	}

	frame, err := a.Render(ctx, fileID, annotationID, width, height)
	if err != nil {
		return err
	}

	if out == "" {
		if err := utils.EnsureDir(cfg.Output.OutputDir); err != nil {
			return err
		}
		out = utils.GenerateOutputFilename(name, cfg.Output.OutputDir, "", cfg.Output.Suffix, format)
	}
	if err := a.SaveImage(frame, out, format, cfg.Output.Quality, cfg.Output.Lossless); err != nil {
		return err
	}
	log.Printf("wrote %s", out)
	return nil
}

func runExport(ctx context.Context, args []string) error {
	var c common
	var out string
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	c.register(fs)
	fs.StringVar(&out, "out", "export.zip", "output archive")
	fs.Parse(args)

	cfg, logger := c.setup()
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := newAnnotator(cfg, logger).Browser().Export(ctx, f)
	if err != nil {
		os.Remove(out)
		return err
	}
	log.Printf("wrote %s (%s)", out, utils.FormatFileSize(n))
	return nil
}

func runSuggest(ctx context.Context, args []string) error {
	var c common
	var fileID, annotationID string
	var apply, testVision bool
	fs := flag.NewFlagSet("suggest", flag.ExitOnError)
	c.register(fs)
	fs.StringVar(&fileID, "file-id", "", "image file id")
	fs.StringVar(&annotationID, "annotation-id", "", "annotation set id")
	fs.BoolVar(&apply, "apply", false, "rename annotations as suggested")
	fs.BoolVar(&testVision, "test", false, "only check that the model can see the image")
	fs.Parse(args)

	cfg, logger := c.setup()
	if fileID == "" || annotationID == "" {
		return fmt.Errorf("-file-id and -annotation-id are required")
	}

	vc, err := newVisionClient(cfg)
	if err != nil {
		return err
	}
	l := labeler.New(vc, cropper.NewWithConfig(cfg.CropConfig()), labeler.Options{
		Model:   cfg.Vision.Model,
		Format:  cfg.Vision.SendFormat,
		MaxDim:  cfg.Vision.MaxDim,
		Quality: cfg.Vision.Quality,
	}, logger)

	session := newAnnotator(cfg, logger).Session()
	if err := session.Open(ctx, fileID, annotationID); err != nil {
		return err
	}

	if testVision {
		answer, err := l.TestVision(ctx, session.Editor().Image())
		if err != nil {
			return err
		}
		fmt.Println(answer)
		return nil
	}

	suggestions, err := session.SuggestLabels(ctx, l)
	if err != nil {
		return err
	}
	for _, s := range suggestions {
		fmt.Printf("%s -> %s (%.2f) %s\n", s.Current, s.Label, s.Raw.Confidence, strings.Join(s.Raw.Tags, ","))
	}
	if !apply {
		return nil
	}
	n, err := session.ApplySuggestions(ctx, suggestions)
	if err != nil {
		return err
	}
	log.Printf("renamed %d annotations", n)
	return nil
}

func newVisionClient(cfg *config.Config) (client.VisionClient, error) {
	switch cfg.Vision.Backend {
	case "ollama":
		vc, err := ollama.NewClient(cfg.Vision.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return vc, nil
	case "llamacpp":
		vc, err := llamacpp.NewClient(cfg.Vision.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return vc, nil
	default:
		return nil, fmt.Errorf("unknown vision backend: %s (use 'ollama' or 'llamacpp')", cfg.Vision.Backend)
	}
}

func runConfig(args []string) error {
	var out string
	var force bool
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	fs.StringVar(&out, "out", config.GetConfigPath(), "where to write the configuration (json or yaml)")
	fs.BoolVar(&force, "force", false, "overwrite an existing file")
	fs.Parse(args)

	if _, err := os.Stat(out); err == nil && !force {
		return fmt.Errorf("%s already exists (use -force to overwrite)", out)
	}
	if err := config.Default().SaveToFile(out); err != nil {
		return err
	}
	log.Printf("wrote %s", out)
	return nil
}
