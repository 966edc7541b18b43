package discovery

import (
	"regexp"
	"strings"

	"github.com/fetcharr/fetcharr/internal/models"
)

var (
	resolutionRegex = regexp.MustCompile(`(?i)\b(2160p|4k|uhd|1080p|720p|480p)\b`)
	codecRegex      = regexp.MustCompile(`(?i)\b(x265|hevc|h\.?265|av1|x264|h\.?264)\b`)
	hdrRegex        = regexp.MustCompile(`(?i)\b(hdr10\+?|hdr|dolby.?vision|\bdv\b)\b`)
	dualAudioRegex  = regexp.MustCompile(`(?i)\b(dual.?audio|dual|multi.?audio)\b`)
	dubbedRegex     = regexp.MustCompile(`(?i)\b(dubbed|eng.?dub|english.?dub|\bdub\b)\b`)
)

// ParseRelease extracts quality attributes from a raw release title, for
// backends that report only the title string. Missing attributes stay zero;
// the ranker scores them minimally instead of rejecting the candidate.
func ParseRelease(title string, c *models.Candidate) {
	if m := resolutionRegex.FindString(title); m != "" {
		switch strings.ToLower(m) {
		case "4k", "uhd":
			c.Resolution = "2160p"
		default:
			c.Resolution = strings.ToLower(m)
		}
	}

	c.Source = parseSource(title)

	if m := codecRegex.FindString(title); m != "" {
		codec := strings.ToLower(strings.ReplaceAll(m, ".", ""))
		if codec == "h265" {
			codec = "hevc"
		}
		if codec == "h264" {
			codec = "x264"
		}
		c.Codec = codec
	}

	c.HDR = hdrRegex.MatchString(title)
	c.DualAudio = dualAudioRegex.MatchString(title)
	if !c.DualAudio {
		c.Dubbed = dubbedRegex.MatchString(title)
	}
}

func parseSource(title string) models.SourceType {
	lower := strings.ToLower(title)
	switch {
	case strings.Contains(lower, "remux"):
		return models.SourceRemux
	case strings.Contains(lower, "bluray"), strings.Contains(lower, "blu-ray"), strings.Contains(lower, "bdrip"):
		return models.SourceBluray
	case strings.Contains(lower, "web-dl"), strings.Contains(lower, "webdl"),
		strings.Contains(lower, "webrip"), strings.Contains(lower, "web "):
		return models.SourceWeb
	default:
		return models.SourceOther
	}
}
