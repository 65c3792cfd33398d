package version

import "strings"

// Version values are set at build time using -ldflags.
var Version = "dev"
var Built = ""
var GitCommit = ""

type Info struct {
	Version   string `json:"version"`
	Built     string `json:"built,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
}

func Current() Info {
	label := strings.TrimSpace(Version)
	if label == "" {
		label = "dev"
	}
	return Info{
		Version:   label,
		Built:     strings.TrimSpace(Built),
		GitCommit: strings.TrimSpace(GitCommit),
	}
}

func (info Info) String() string {
	var details []string
	if info.GitCommit != "" {
		details = append(details, info.GitCommit)
	}
	if info.Built != "" {
		details = append(details, "built "+info.Built)
	}
	if len(details) == 0 {
		return info.Version
	}
	return info.Version + " (" + strings.Join(details, ", ") + ")"
}
