package store

// DefaultWorld is the world whose stats directory is preferred when no
// explicit folder is configured.
const DefaultWorld = "world"

// Config holds configuration for locating the stats documents.
type Config struct {
	// Folder is an explicit stats directory. Relative paths are
	// resolved against WorldContainer. Takes precedence when it
	// exists and is a directory.
	Folder string `yaml:"folder"`

	// WorldContainer is the server directory holding the world
	// folders. Defaults to the working directory.
	WorldContainer string `yaml:"world_container"`

	// World is the preferred world name. Defaults to "world".
	World string `yaml:"world"`

	// UserCache is the path of usercache.json, used to learn the
	// names of players that never connected while statmirror was
	// running. Relative paths are resolved against WorldContainer.
	UserCache string `yaml:"user_cache"`
}
