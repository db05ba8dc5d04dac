/*
Package manifest implements the manifest loader (C1) of §4.1: parsing
one YAML component declaration per file out of a directory, rejecting
malformed entries without affecting the rest of the load, and
materializing the defaults §4.1 specifies for every field a manifest
may omit.

Filesystem access goes through afero.Fs rather than the os package
directly, so Loader can be exercised in tests against an in-memory
filesystem (afero.NewMemMapFs()) with no real files on disk — the
"narrow interface" §9 asks for so tests can drive the loader without
kernel operations.

	loader := manifest.NewLoader(afero.NewMemMapFs(), "/etc/initd/components")
	result := loader.Load()
	for _, err := range result.Errors {
		log.WithComponent("manifest").Warn().Err(err).Msg("skipped")
	}

Watcher wraps fsnotify to deliver directory change events to
pkg/reactor, which debounces and triggers a reload.
*/
package manifest
