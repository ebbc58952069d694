package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (Python logs)
// This ensures we don't lose critical crash information if a worker dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe
// It prepares the command for execution but does not start it.
func NewSafeCommand(name string, args ...string) *SafeCommand {
	cmd := exec.Command(name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

var (
	errorTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	errorBox   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("9")).
			Padding(0, 1)
)

// ShowError prints a formatted error box and dumps worker logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	var b strings.Builder
	b.WriteString(errorTitle.Render("ECHOFACE ERROR: " + context))
	if err != nil {
		fmt.Fprintf(&b, "\nDETAILS: %v", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(&b, "\n\nWORKER LOGS:\n%s", strings.TrimRight(s.Stderr.String(), "\n"))
	}
	fmt.Fprintln(os.Stderr, errorBox.Render(b.String()))
}

// Die is the unified exit strategy for startup failures.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 2. Video Probing ---

type ffprobeStream struct {
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	RFrameRate    string `json:"r_frame_rate"`
	AvgFrameRate  string `json:"avg_frame_rate"`
	NbFrames      string `json:"nb_frames"`
	NbReadPackets string `json:"nb_read_packets"`
	Tags          struct {
		Rotate string `json:"rotate"`
	} `json:"tags"`
	SideDataList []struct {
		Rotation float64 `json:"rotation"`
	} `json:"side_data_list"`
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
}

func probe(ctx context.Context, path string, entries string, extra ...string) (*ffprobeOutput, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}
	args := []string{"-v", "error", "-select_streams", "v:0"}
	args = append(args, extra...)
	args = append(args, "-show_entries", "stream="+entries, "-of", "json", path)

	out, err := exec.CommandContext(ctx, "ffprobe", args...).Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(res.Streams) == 0 {
		return nil, fmt.Errorf("no video stream in %s", path)
	}
	return &res, nil
}

// GetVideoFPS reads the nominal frame rate of the first video stream.
func GetVideoFPS(ctx context.Context, path string) (float64, error) {
	res, err := probe(ctx, path, "r_frame_rate,avg_frame_rate")
	if err != nil {
		return 0, err
	}
	s := res.Streams[0]
	if fps, err := ParseRate(s.AvgFrameRate); err == nil && fps > 0 {
		return fps, nil
	}
	return ParseRate(s.RFrameRate)
}

// GetVideoDimensions reads the display width and height of the first video
// stream, i.e. after the rotation ffmpeg applies on decode.
func GetVideoDimensions(ctx context.Context, path string) (int, int, error) {
	res, err := probe(ctx, path, "width,height:stream_tags=rotate:stream_side_data=rotation")
	if err != nil {
		return 0, 0, err
	}
	w, h := res.Streams[0].displaySize()
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid dimensions %dx%d", w, h)
	}
	return w, h, nil
}

// rotation is the stream's rotation in degrees. Display matrix side data
// wins over the legacy rotate tag.
func (s ffprobeStream) rotation() float64 {
	for _, sd := range s.SideDataList {
		if sd.Rotation != 0 {
			return sd.Rotation
		}
	}
	if r, err := strconv.ParseFloat(s.Tags.Rotate, 64); err == nil {
		return r
	}
	return 0
}

// displaySize swaps the coded size for quarter-turn rotations.
func (s ffprobeStream) displaySize() (int, int) {
	if math.Mod(math.Abs(math.Round(s.rotation())), 180) == 90 {
		return s.Height, s.Width
	}
	return s.Width, s.Height
}

// GetTotalFrames uses ffprobe to count frames for the progress bar
// It returns 0 if the count fails, allowing the caller to fallback to a spinner.
func GetTotalFrames(ctx context.Context, path string) int {
	// 1. Fast Path: Check Container Metadata
	// This is instant but might return "N/A" or be inaccurate for VFR.
	if res, err := probe(ctx, path, "nb_frames"); err == nil {
		if count, err := strconv.Atoi(res.Streams[0].NbFrames); err == nil && count > 0 {
			return count
		}
	}

	// 2. Slow Path: Count Packets (Fallback)
	res, err := probe(ctx, path, "nb_read_packets", "-count_packets")
	if err != nil {
		return 0
	}
	count, err := strconv.Atoi(res.Streams[0].NbReadPackets)
	if err != nil {
		return 0
	}
	return count
}

// ParseRate parses ffprobe rates such as "30000/1001" or "25".
func ParseRate(s string) (float64, error) {
	num, den, found := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rate %q: %w", s, err)
	}
	if !found {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, fmt.Errorf("invalid rate %q", s)
	}
	return n / d, nil
}

// --- 3. Video Decoding ---

// NewFFmpegRawDecoder creates a decoder pipe that writes bgr24 frames of exactly
// width*height*3 bytes to Stdout, letterboxed from the source geometry.
func NewFFmpegRawDecoder(ctx context.Context, inputPath string, filter string) *exec.Cmd {
	return exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error",
		"-i", inputPath,
		"-an", "-vf", filter,
		"-f", "rawvideo", "-pix_fmt", "bgr24", "-")
}
