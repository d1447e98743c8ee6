package cache

// PurgeVersion removes every durable entry whose schema version differs from
// version, whether or not it is still live. Entries that cannot be decoded
// are removed as well since their version cannot be trusted. It returns the
// number of entries removed.
func (d *DurableTier) PurgeVersion(version string) (int, error) {
	keys, err := d.Keys()
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, key := range keys {
		nsKey := d.namespace + key

		raw, ok, err := d.store.Get(nsKey)
		if err != nil || !ok {
			continue
		}

		if entry, err := d.decode(raw); err == nil && entry.SchemaVersion == version {
			continue
		}

		if err := d.store.Remove(nsKey); err != nil {
			d.logger.Warn("Failed to purge cache entry", "key", key, "error", err)
			continue
		}
		purged++
	}

	if purged > 0 {
		d.logger.Info("Purged cache entries from another schema version", "count", purged, "version", version)
	}
	d.metrics.recordVersionPurge(purged)

	return purged, nil
}
