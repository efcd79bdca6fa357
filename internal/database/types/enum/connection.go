package enum

// ConnectionKind represents the platform a user connection belongs to.
type ConnectionKind int

const (
	// ConnectionKindDiscord links the chat platform account itself.
	ConnectionKindDiscord ConnectionKind = iota
	// ConnectionKindGitHub links a GitHub account.
	ConnectionKindGitHub
	// ConnectionKindRoblox links a game platform account.
	ConnectionKindRoblox
	// ConnectionKindYouTube links a YouTube channel.
	ConnectionKindYouTube
	// ConnectionKindPatreon links a funding platform account.
	ConnectionKindPatreon
)

var connectionKindNames = map[ConnectionKind]string{
	ConnectionKindDiscord: "Discord",
	ConnectionKindGitHub:  "GitHub",
	ConnectionKindRoblox:  "Roblox",
	ConnectionKindYouTube: "YouTube",
	ConnectionKindPatreon: "Patreon",
}

func (k ConnectionKind) String() string {
	if name, ok := connectionKindNames[k]; ok {
		return name
	}

	return "Unknown"
}
