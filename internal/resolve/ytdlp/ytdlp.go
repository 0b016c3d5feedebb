// Package ytdlp resolves multi-rendition video URLs through the yt-dlp
// extraction backend, invoked as a subprocess in metadata-only mode.
package ytdlp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	execute "github.com/alexellis/go-execute/v2"

	"github.com/vidrelay/vidrelay/internal/asset"
	"github.com/vidrelay/vidrelay/internal/logctx"
	"github.com/vidrelay/vidrelay/internal/resolve"
)

// maxRenditions bounds the quality keyboard so selection stays usable.
const maxRenditions = 6

// videoContainer restricts the quality list to a container the messaging
// platform streams natively.
const videoContainer = "mp4"

// defaultTimeout bounds one extraction run. A hung backend would otherwise
// hold the asset's admission slot until restart.
const defaultTimeout = 90 * time.Second

type Resolver struct {
	// Path is the yt-dlp executable, overridable for pinned installs.
	Path string
	// Timeout aborts an extraction that produces no result in time.
	Timeout time.Duration
}

func NewResolver(path string) *Resolver {
	if path == "" {
		path = "yt-dlp"
	}

	return &Resolver{Path: path, Timeout: defaultTimeout}
}

type extractedInfo struct {
	Title     string            `json:"title"`
	Thumbnail string            `json:"thumbnail"`
	Formats   []extractedFormat `json:"formats"`
}

type extractedFormat struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	Height         int64   `json:"height"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	ABR            float64 `json:"abr"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
	URL            string  `json:"url"`
}

func (f *extractedFormat) declaredSize() int64 {
	if f.Filesize > 0 {
		return f.Filesize
	}

	return f.FilesizeApprox
}

func (f *extractedFormat) isAudioOnly() bool {
	return f.VCodec == "none" && f.ACodec != "" && f.ACodec != "none"
}

// Resolve lists the selectable video renditions for a source URL.
func (r *Resolver) Resolve(ctx context.Context, sourceURL string) (*resolve.Resolution, error) {
	info, err := r.extract(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	renditions := selectVideoRenditions(info.Formats)
	if len(renditions) == 0 {
		return nil, &resolve.ResolutionError{
			URL:    sourceURL,
			Reason: "no downloadable formats found",
		}
	}

	return &resolve.Resolution{
		Title:        info.Title,
		ThumbnailURL: info.Thumbnail,
		Renditions:   renditions,
	}, nil
}

// ResolveRendition re-extracts the source and returns a downloadable stream
// for the chosen rendition. Stream URLs from the backend expire, so the
// extraction is repeated rather than cached from Resolve.
func (r *Resolver) ResolveRendition(ctx context.Context, sourceURL, renditionID string) (*resolve.Stream, error) {
	info, err := r.extract(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	var format *extractedFormat

	if renditionID == resolve.AudioRenditionID {
		format = bestAudio(info.Formats)
	} else {
		format = findFormat(info.Formats, renditionID)
	}

	if format == nil || format.URL == "" {
		return nil, &resolve.ResolutionError{
			URL:    sourceURL,
			Reason: fmt.Sprintf("rendition %q is no longer available", renditionID),
		}
	}

	return &resolve.Stream{
		URL:          format.URL,
		Title:        info.Title,
		ThumbnailURL: info.Thumbnail,
		Container:    format.Ext,
		SizeBytes:    format.declaredSize(),
	}, nil
}

func (r *Resolver) extract(ctx context.Context, sourceURL string) (*extractedInfo, error) {
	logger := logctx.LoggerFromContext(ctx)

	logger.Debug("extracting source metadata", "url", sourceURL, "backend", r.Path)

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := execute.ExecTask{
		Command: r.Path,
		Args:    []string{"--no-playlist", "--no-warnings", "-J", sourceURL},
	}

	res, err := cmd.Execute(ctx)
	if err != nil {
		return nil, &resolve.ResolutionError{
			URL:    sourceURL,
			Reason: "extraction backend failed",
			Err:    err,
		}
	}

	if res.ExitCode != 0 {
		return nil, &resolve.ResolutionError{
			URL:    sourceURL,
			Reason: fmt.Sprintf("extraction backend exited with code %d: %s", res.ExitCode, res.Stderr),
		}
	}

	return parseInfo([]byte(res.Stdout), sourceURL)
}

func parseInfo(raw []byte, sourceURL string) (*extractedInfo, error) {
	var info extractedInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, &resolve.ResolutionError{
			URL:    sourceURL,
			Reason: "unparseable extraction metadata",
			Err:    err,
		}
	}

	return &info, nil
}

// selectVideoRenditions filters to the streamable container, deduplicates by
// height keeping the first occurrence (the backend lists highest bitrate
// first), sorts by quality descending and truncates the preview.
func selectVideoRenditions(formats []extractedFormat) []asset.Rendition {
	seen := make(map[int64]bool, len(formats))
	renditions := make([]asset.Rendition, 0, maxRenditions)

	for i := range formats {
		f := &formats[i]
		if f.Height <= 0 || f.Ext != videoContainer {
			continue
		}

		if seen[f.Height] {
			continue
		}

		seen[f.Height] = true

		renditions = append(renditions, asset.Rendition{
			ID:        f.FormatID,
			Label:     fmt.Sprintf("%dp", f.Height),
			Container: f.Ext,
			SizeBytes: f.declaredSize(),
		})
	}

	sort.SliceStable(renditions, func(i, j int) bool {
		return heightOf(renditions[i]) > heightOf(renditions[j])
	})

	if len(renditions) > maxRenditions {
		renditions = renditions[:maxRenditions]
	}

	return renditions
}

func heightOf(r asset.Rendition) int64 {
	var height int64
	_, _ = fmt.Sscanf(r.Label, "%dp", &height)

	return height
}

func bestAudio(formats []extractedFormat) *extractedFormat {
	var best *extractedFormat

	for i := range formats {
		f := &formats[i]
		if !f.isAudioOnly() || f.URL == "" {
			continue
		}

		if best == nil || f.ABR > best.ABR {
			best = f
		}
	}

	return best
}

func findFormat(formats []extractedFormat, formatID string) *extractedFormat {
	for i := range formats {
		if formats[i].FormatID == formatID {
			return &formats[i]
		}
	}

	return nil
}
