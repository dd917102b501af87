package config

import (
	"encoding/json"
	"fmt"
	"image/color"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/image-annotator/internal/utils"
	"github.com/menta2k/image-annotator/pkg/analyzer"
	"github.com/menta2k/image-annotator/pkg/cropper"
	"github.com/menta2k/image-annotator/pkg/editor"
)

// EnvBackendURL overrides backend.url when set
const EnvBackendURL = "ANNOTATOR_BACKEND_URL"

// Config holds the application configuration
type Config struct {
	Backend BackendConfig `json:"backend" yaml:"backend"`
	Server  ServerConfig  `json:"server" yaml:"server"`
	Editor  EditorConfig  `json:"editor" yaml:"editor"`
	Upload  UploadConfig  `json:"upload" yaml:"upload"`
	Vision  VisionConfig  `json:"vision" yaml:"vision"`
	Output  OutputConfig  `json:"output" yaml:"output"`
}

// BackendConfig locates the storage service
type BackendConfig struct {
	URL            string `json:"url" yaml:"url"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// ServerConfig holds configuration for the front-end HTTP server
type ServerConfig struct {
	Listen string `json:"listen" yaml:"listen"`
}

// EditorConfig holds configuration for the canvas editor
type EditorConfig struct {
	ContainerWidth  float64 `json:"container_width" yaml:"container_width"`
	ContainerHeight float64 `json:"container_height" yaml:"container_height"`
	PointRadius     float64 `json:"point_radius" yaml:"point_radius"`
	LineWidth       float64 `json:"line_width" yaml:"line_width"`
	PointColor      string  `json:"point_color" yaml:"point_color"`
	LineColor       string  `json:"line_color" yaml:"line_color"`
	PolygonColor    string  `json:"polygon_color" yaml:"polygon_color"`
}

// UploadConfig holds configuration for the upload flow
type UploadConfig struct {
	Concurrency      int      `json:"concurrency" yaml:"concurrency"`
	SupportedFormats []string `json:"supported_formats" yaml:"supported_formats"`
	MinImageSize     int      `json:"min_image_size" yaml:"min_image_size"`
}

// VisionConfig holds configuration for label suggestions
type VisionConfig struct {
	Backend      string  `json:"backend" yaml:"backend"` // ollama or llamacpp
	URL          string  `json:"url" yaml:"url"`
	Model        string  `json:"model" yaml:"model"`
	SendFormat   string  `json:"send_format" yaml:"send_format"`
	MaxDim       int     `json:"max_dim" yaml:"max_dim"`
	Quality      int     `json:"quality" yaml:"quality"`
	PaddingRatio float64 `json:"padding_ratio" yaml:"padding_ratio"`
	MinCropSize  int     `json:"min_crop_size" yaml:"min_crop_size"`
}

// OutputConfig holds configuration for rendered previews and exports
type OutputConfig struct {
	DefaultFormat string `json:"default_format" yaml:"default_format"`
	Quality       int    `json:"quality" yaml:"quality"`
	Lossless      bool   `json:"lossless" yaml:"lossless"`
	OutputDir     string `json:"output_dir" yaml:"output_dir"`
	Suffix        string `json:"suffix" yaml:"suffix"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:            "http://localhost:8000",
			TimeoutSeconds: 30,
		},
		Server: ServerConfig{
			Listen: ":3000",
		},
		Editor: EditorConfig{
			ContainerWidth:  800,
			ContainerHeight: 600,
			PointRadius:     5,
			LineWidth:       2,
			PointColor:      "#ff0000",
			LineColor:       "#0000ff",
			PolygonColor:    "#008000",
		},
		Upload: UploadConfig{
			Concurrency:      4,
			SupportedFormats: []string{"jpg", "jpeg", "png"},
			MinImageSize:     1,
		},
		Vision: VisionConfig{
			Backend:      "ollama",
			URL:          "http://localhost:11434",
			Model:        "llava",
			SendFormat:   "jpg",
			MaxDim:       512,
			Quality:      85,
			PaddingRatio: 0.1,
			MinCropSize:  32,
		},
		Output: OutputConfig{
			DefaultFormat: "png",
			Quality:       90,
			Lossless:      false,
			OutputDir:     "./output",
			Suffix:        "_annotated",
		},
	}
}

func isYAML(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadFromFile loads configuration from a JSON or YAML file, chosen by
// extension. Missing fields keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(filename) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Load reads filename when it exists, otherwise starts from defaults, and
// then applies environment overrides
func Load(filename string) (*Config, error) {
	config := Default()
	if filename != "" {
		if _, err := os.Stat(filename); err == nil {
			if config, err = LoadFromFile(filename); err != nil {
				return nil, err
			}
		}
	}
	config.ApplyEnv()
	return config, nil
}

// ApplyEnv applies environment variable overrides
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvBackendURL)); v != "" {
		c.Backend.URL = v
	}
}

// SaveToFile saves configuration to a JSON or YAML file
func (c *Config) SaveToFile(filename string) error {
	if err := utils.EnsureDir(filepath.Dir(filename)); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.url must be an http(s) URL")
	}

	if c.Backend.TimeoutSeconds < 0 {
		return fmt.Errorf("backend.timeout_seconds cannot be negative")
	}

	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen cannot be empty")
	}

	if c.Editor.ContainerWidth <= 0 || c.Editor.ContainerHeight <= 0 {
		return fmt.Errorf("editor container size must be positive")
	}

	if c.Editor.PointRadius <= 0 || c.Editor.LineWidth <= 0 {
		return fmt.Errorf("editor.point_radius and editor.line_width must be positive")
	}

	if _, err := c.EditorStyle(); err != nil {
		return err
	}

	if c.Upload.Concurrency < 1 {
		return fmt.Errorf("upload.concurrency must be at least 1")
	}

	if len(c.Upload.SupportedFormats) == 0 {
		return fmt.Errorf("upload.supported_formats cannot be empty")
	}

	if c.Upload.MinImageSize < 1 {
		return fmt.Errorf("upload.min_image_size must be positive")
	}

	switch c.Vision.Backend {
	case "ollama", "llamacpp":
	default:
		return fmt.Errorf("vision.backend must be ollama or llamacpp")
	}

	if c.Vision.Quality < 1 || c.Vision.Quality > 100 {
		return fmt.Errorf("vision.quality must be between 1 and 100")
	}

	if c.Vision.PaddingRatio < 0 || c.Vision.PaddingRatio > 1 {
		return fmt.Errorf("vision.padding_ratio must be between 0 and 1")
	}

	switch strings.ToLower(c.Output.DefaultFormat) {
	case "png", "jpg", "jpeg", "webp":
	default:
		return fmt.Errorf("output.default_format must be png, jpg or webp")
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	return nil
}

// BackendTimeout returns the backend request timeout
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// EditorStyle builds the marker style from the editor section
func (c *Config) EditorStyle() (editor.Style, error) {
	style := editor.DefaultStyle()
	style.PointRadius = c.Editor.PointRadius
	style.LineWidth = c.Editor.LineWidth

	for _, f := range []struct {
		name  string
		value string
		dst   *color.Color
	}{
		{"editor.point_color", c.Editor.PointColor, &style.PointColor},
		{"editor.line_color", c.Editor.LineColor, &style.LineColor},
		{"editor.polygon_color", c.Editor.PolygonColor, &style.PolygonColor},
	} {
		if f.value == "" {
			continue
		}
		v, err := utils.ParseHexColor(f.value)
		if err != nil {
			return style, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}
	return style, nil
}

// AnalyzerConfig returns the upload validation settings
func (c *Config) AnalyzerConfig() analyzer.Config {
	return analyzer.Config{
		SupportedFormats: c.Upload.SupportedFormats,
		MinImageSize:     c.Upload.MinImageSize,
	}
}

// CropConfig returns the region cropping settings for label suggestions
func (c *Config) CropConfig() cropper.CropConfig {
	cfg := cropper.DefaultConfig()
	cfg.PaddingRatio = c.Vision.PaddingRatio
	if c.Vision.MinCropSize > 0 {
		cfg.MinSize = c.Vision.MinCropSize
	}
	return cfg
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "image-annotator", "config.json")
}
