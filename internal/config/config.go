package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/menta2k/thatcherizer/pkg/geometry"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "THATCHER_"

// Config holds the application configuration
type Config struct {
	Display    DisplayConfig    `json:"display"`
	Camera     CameraConfig     `json:"camera"`
	Session    SessionConfig    `json:"session"`
	Regions    RegionsConfig    `json:"regions"`
	Compositor CompositorConfig `json:"compositor"`
	Print      PrintConfig      `json:"print"`
	Output     OutputConfig     `json:"output"`
	Detector   DetectorConfig   `json:"detector"`
	Log        LogConfig        `json:"log"`
}

// Size is a width and height in pixels
type Size struct {
	Width  int `json:"width" validate:"gt=0"`
	Height int `json:"height" validate:"gt=0"`
}

// Point returns the size as an image.Point
func (s Size) Point() image.Point {
	return image.Pt(s.Width, s.Height)
}

// Point is a pixel offset
type Point struct {
	X int `json:"x" validate:"gte=0"`
	Y int `json:"y" validate:"gte=0"`
}

// Image returns the offset as an image.Point
func (p Point) Image() image.Point {
	return image.Pt(p.X, p.Y)
}

// DisplayConfig holds the screen geometry and UI assets
type DisplayConfig struct {
	Screen         Size   `json:"screen"`
	Viewport       Size   `json:"viewport"`
	FPS            int    `json:"fps" validate:"gte=1,lte=120"`
	GuidePath      string `json:"guide_path"`
	BackgroundsDir string `json:"backgrounds_dir"`
}

// CameraConfig holds the frame source settings
type CameraConfig struct {
	Enabled    bool   `json:"enabled"`
	Device     int    `json:"device" validate:"gte=0"`
	Resolution Size   `json:"resolution"`
	StillImage string `json:"still_image"`
}

// SessionConfig holds the tick-based timers
type SessionConfig struct {
	Countdown         int `json:"countdown" validate:"gte=1"`
	TicksPerDecrement int `json:"ticks_per_decrement" validate:"gte=1"`
	FlashFadeStep     int `json:"flash_fade_step" validate:"gte=1,lte=255"`
	FlipStep          int `json:"flip_step" validate:"gte=1,lte=180"`
	PrintDelayTicks   int `json:"print_delay_ticks" validate:"gte=1"`
	DetectTimeoutMS   int `json:"detect_timeout_ms" validate:"gte=1"`
}

// RegionsConfig holds the image-space guide rectangles
type RegionsConfig struct {
	LeftEye  geometry.ImageRect `json:"left_eye"`
	RightEye geometry.ImageRect `json:"right_eye"`
	Mouth    geometry.ImageRect `json:"mouth"`
}

// CompositorConfig holds configuration for the illusion transform
type CompositorConfig struct {
	Output       geometry.ImageRect `json:"output"`
	MaskPath     string             `json:"mask_path"`
	DebugOverlay bool               `json:"debug_overlay"`
}

// PrintConfig holds the print layout and printer
type PrintConfig struct {
	Enabled        bool               `json:"enabled"`
	Printer        string             `json:"printer" validate:"required_if=Enabled true"`
	Scale          Size               `json:"scale"`
	Crop           geometry.ImageRect `json:"crop"`
	TemplatePath   string             `json:"template_path"`
	TemplateSize   Size               `json:"template_size"`
	OriginalAnchor Point              `json:"original_anchor"`
	IllusionAnchor Point              `json:"illusion_anchor"`
}

// OutputConfig holds configuration for persisted artifacts
type OutputConfig struct {
	Dir      string `json:"dir" validate:"required"`
	Format   string `json:"format" validate:"oneof=png jpg jpeg webp"`
	Quality  int    `json:"quality" validate:"gte=1,lte=100"`
	Lossless bool   `json:"lossless"`
}

// DetectorConfig selects the feature detector backend
type DetectorConfig struct {
	Backend          string  `json:"backend" validate:"oneof=none cascade ollama llamacpp"`
	URL              string  `json:"url" validate:"omitempty,url"`
	Model            string  `json:"model"`
	CascadeDir       string  `json:"cascade_dir"`
	EyeScaleFactor   float64 `json:"eye_scale_factor" validate:"gt=1"`
	MouthScaleFactor float64 `json:"mouth_scale_factor" validate:"gt=1"`
	MinConfidence    float64 `json:"min_confidence" validate:"gte=0,lte=1"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level string `json:"level" validate:"oneof=trace debug info warn warning error"`
	File  string `json:"file"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Display: DisplayConfig{
			Screen:   Size{Width: 800, Height: 480},
			Viewport: Size{Width: 400, Height: 400},
			FPS:      15,
		},
		Camera: CameraConfig{
			Enabled:    true,
			Device:     0,
			Resolution: Size{Width: 640, Height: 480},
		},
		Session: SessionConfig{
			Countdown:         3,
			TicksPerDecrement: 5,
			FlashFadeStep:     20,
			FlipStep:          30,
			PrintDelayTicks:   2,
			DetectTimeoutMS:   5000,
		},
		Regions: RegionsConfig{
			LeftEye:  geometry.ImageRect{X: 240, Y: 155, W: 50, H: 30},
			RightEye: geometry.ImageRect{X: 345, Y: 155, W: 50, H: 30},
			Mouth:    geometry.ImageRect{X: 275, Y: 255, W: 90, H: 60},
		},
		Compositor: CompositorConfig{
			Output: geometry.ImageRect{X: 140, Y: 0, W: 360, H: 480},
		},
		Print: PrintConfig{
			Enabled:        false,
			Printer:        "Canon_C910",
			Scale:          Size{Width: 720, Height: 960},
			Crop:           geometry.ImageRect{X: 40, Y: 52, W: 640, H: 856},
			TemplateSize:   Size{Width: 1800, Height: 1200},
			OriginalAnchor: Point{X: 58, Y: 172},
			IllusionAnchor: Point{X: 1102, Y: 172},
		},
		Output: OutputConfig{
			Dir:     "./output",
			Format:  "png",
			Quality: 90,
		},
		Detector: DetectorConfig{
			Backend:          "none",
			Model:            "openbmb/minicpm-v4.5",
			CascadeDir:       "./classifiers",
			EyeScaleFactor:   3.3,
			MouthScaleFactor: 4,
			MinConfidence:    0.3,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Keys missing from the
// file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadEnv reads .env style files into the process environment. Missing
// files are not an error.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides configuration values from THATCHER_* variables.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"OUTPUT_DIR":       &c.Output.Dir,
		"OUTPUT_FORMAT":    &c.Output.Format,
		"STILL_IMAGE":      &c.Camera.StillImage,
		"DETECTOR_BACKEND": &c.Detector.Backend,
		"DETECTOR_URL":     &c.Detector.URL,
		"DETECTOR_MODEL":   &c.Detector.Model,
		"CASCADE_DIR":      &c.Detector.CascadeDir,
		"PRINTER":          &c.Print.Printer,
		"TEMPLATE_PATH":    &c.Print.TemplatePath,
		"MASK_PATH":        &c.Compositor.MaskPath,
		"LOG_LEVEL":        &c.Log.Level,
		"LOG_FILE":         &c.Log.File,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"CAMERA_DEVICE": &c.Camera.Device,
		"FPS":           &c.Display.FPS,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"CAMERA_ENABLED": &c.Camera.Enabled,
		"PRINT_ENABLED":  &c.Print.Enabled,
		"DEBUG_OVERLAY":  &c.Compositor.DebugOverlay,
	}
	for key, dst := range bools {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
			*dst = b
		}
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	screen := c.Display.Screen
	viewport := c.Display.Viewport
	if viewport.Width > screen.Width || viewport.Height > screen.Height {
		return fmt.Errorf("display.viewport must fit inside display.screen")
	}

	source := image.Rect(0, 0, c.Camera.Resolution.Width, c.Camera.Resolution.Height)
	if !inside(c.Compositor.Output, source) {
		return fmt.Errorf("compositor.output must lie inside the camera resolution")
	}

	for name, r := range map[string]geometry.ImageRect{
		"regions.left_eye":  c.Regions.LeftEye,
		"regions.right_eye": c.Regions.RightEye,
		"regions.mouth":     c.Regions.Mouth,
	} {
		if r.Empty() {
			return fmt.Errorf("%s must have a positive size", name)
		}
	}

	scaled := image.Rect(0, 0, c.Print.Scale.Width, c.Print.Scale.Height)
	if !inside(c.Print.Crop, scaled) {
		return fmt.Errorf("print.crop must lie inside print.scale")
	}

	template := image.Rect(0, 0, c.Print.TemplateSize.Width, c.Print.TemplateSize.Height)
	for name, anchor := range map[string]Point{
		"print.original_anchor": c.Print.OriginalAnchor,
		"print.illusion_anchor": c.Print.IllusionAnchor,
	} {
		placed := geometry.ImageRect{X: anchor.X, Y: anchor.Y, W: c.Print.Crop.W, H: c.Print.Crop.H}
		if !inside(placed, template) {
			return fmt.Errorf("%s places the photo outside print.template_size", name)
		}
	}

	switch c.Detector.Backend {
	case "ollama", "llamacpp":
		if c.Detector.URL == "" {
			return fmt.Errorf("detector.url is required for the %s backend", c.Detector.Backend)
		}
	case "cascade":
		if c.Detector.CascadeDir == "" {
			return fmt.Errorf("detector.cascade_dir is required for the cascade backend")
		}
	}

	if !c.Camera.Enabled && c.Camera.StillImage == "" {
		return fmt.Errorf("camera.still_image is required when the camera is disabled")
	}

	return nil
}

func inside(r geometry.ImageRect, bounds image.Rectangle) bool {
	return !r.Empty() && r.Rectangle().In(bounds)
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "thatcherizer", "config.json")
}
