package model

import (
	"errors"
	"fmt"
)

// Platform identifies a supported social network.
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformTwitter   Platform = "twitter"
)

// Platforms lists every supported platform, in display order.
var Platforms = []Platform{
	PlatformYouTube,
	PlatformFacebook,
	PlatformInstagram,
	PlatformLinkedIn,
	PlatformTwitter,
}

var ErrUnknownPlatform = errors.New("unknown platform")

// ParsePlatform converts a string into a Platform.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(s)
	for _, known := range Platforms {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, s)
}

func (p Platform) String() string {
	return string(p)
}
