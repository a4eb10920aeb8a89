package engine

// GetExtraParams implements getExtraParams(): the host-set key/value
// pairs stored in the Catalog's metadata table. Loader requests do not
// carry them.
func (e *Engine) GetExtraParams() (map[string]string, error) {
	return e.cat.GetExtraParams()
}

// SetExtraParam implements setExtraParam(key, value). Passing an empty
// value removes the key.
func (e *Engine) SetExtraParam(key, value string) error {
	return e.cat.SetExtraParam(key, value)
}
