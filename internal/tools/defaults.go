package tools

import "time"

// DefaultTools returns the built-in tool set registered at service startup.
func DefaultTools() []Tool {
	return []Tool{
		{
			Name:        "git_status",
			Description: "Show the working tree status of the current git repository",
			Category:    "git",
			Tags:        []string{"git", "status", "repository"},
			Examples: []string{
				"what changed in my repo",
				"show git status",
				"any uncommitted changes",
			},
			Enabled:  true,
			Priority: 80,
			Timeout:  10 * time.Second,
		},
		{
			Name:        "git_log",
			Description: "Show recent commit history for the current git repository",
			Category:    "git",
			Tags:        []string{"git", "log", "history", "commits"},
			Parameters: []Parameter{
				{Name: "limit", Type: TypeNumber, Description: "Maximum number of commits to show", Default: 10},
				{Name: "branch", Type: TypeString, Description: "Branch to show history for"},
			},
			Examples: []string{
				"show recent commits",
				"git history",
				"who committed last",
			},
			Enabled:  true,
			Priority: 70,
			Timeout:  10 * time.Second,
		},
		{
			Name:        "list_files",
			Description: "List files and directories at a given path",
			Category:    "files",
			Tags:        []string{"files", "directory", "listing"},
			Parameters: []Parameter{
				{Name: "path", Type: TypeString, Description: "Directory to list", Required: true},
				{Name: "recursive", Type: TypeBoolean, Description: "Descend into subdirectories", Default: false},
			},
			Examples: []string{
				"list files in src",
				"what files are here",
				"show directory contents",
			},
			Enabled:  true,
			Priority: 90,
			Timeout:  5 * time.Second,
		},
		{
			Name:        "read_file",
			Description: "Read the contents of a file at a given path",
			Category:    "files",
			Tags:        []string{"files", "read", "content"},
			Parameters: []Parameter{
				{Name: "path", Type: TypeString, Description: "File to read", Required: true},
			},
			Examples: []string{
				"open the readme",
				"show me main.go",
				"read config file",
			},
			Enabled:  true,
			Priority: 85,
			Timeout:  5 * time.Second,
		},
		{
			Name:        "generate_captions",
			Description: "Generate descriptive captions for images in a directory",
			Category:    "media",
			Tags:        []string{"images", "captions", "generation"},
			Parameters: []Parameter{
				{Name: "path", Type: TypeString, Description: "Directory containing images", Required: true},
				{Name: "model", Type: TypeString, Description: "Caption model to use"},
			},
			Examples: []string{
				"caption these images",
				"describe the pictures in this folder",
			},
			Enabled:  true,
			Priority: 75,
			Timeout:  120 * time.Second,
		},
	}
}
