package types

// ModelRecord describes one artifact in the local cache. It is derived from a
// directory scan on every request and never stored.
type ModelRecord struct {
	// Repository id of the artifact.
	// example: Qwen/Qwen2.5-7B-Instruct
	ID string `json:"id" example:"Qwen/Qwen2.5-7B-Instruct"`
	// True when the artifact directory exists in the cache.
	Downloaded bool `json:"downloaded"`
	// Total size of the artifact on disk, when it could be measured.
	// example: 15231233024
	SizeBytes *int64 `json:"size_bytes,omitempty" example:"15231233024"`
	// Human-readable size.
	// example: 15.23GB
	SizeHuman string `json:"size_human,omitempty" example:"15.23GB"`
}
