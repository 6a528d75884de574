package installation

type ClientOptions struct {
	PackageType      string   `plist:"PackageType,omitempty"`
	ReturnAttributes []string `plist:"ReturnAttributes,omitempty"`
}

type Command struct {
	Command       string         `plist:"Command"`
	ClientOptions *ClientOptions `plist:"ClientOptions,omitempty"`
}

type lookupRequest struct {
	Command
}

type lookupResponse struct {
	LookupResult map[string]any `plist:"LookupResult"`
}

type installRequest struct {
	Command
	PackagePath string `plist:"PackagePath"`
}

type applicationIdentifierRequest struct {
	Command
	ApplicationIdentifier string `plist:"ApplicationIdentifier"`
}

// ProgressEvent is one status message of an install/uninstall operation.
// The stream ends with Status "Complete".
type ProgressEvent struct {
	Status           string `plist:"Status,omitempty"`
	Error            string `plist:"Error,omitempty"`
	ErrorDescription string `plist:"ErrorDescription,omitempty"`
	PercentComplete  int    `plist:"PercentComplete,omitempty"`
}
