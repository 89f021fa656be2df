// Package sync ties the in-memory project store to the persistence gateway
// for one active project key.
//
// A Workspace owns the store for the current key. Every mutation updates the
// store, writes the local cache synchronously and mirrors the snapshot to the
// remote document in the background. Remote snapshots observed by the
// subscription replace the store wholesale.
//
// # Key switching
//
// The project key selects which dataset the workspace works on. Switching
// keys persists the choice, loads whatever the device has cached for the new
// key, and replaces the remote subscription. The previous subscription is
// torn down before the new one starts, and callbacks from an old
// subscription are discarded.
//
// Example:
//
//	ws, err := sync.Open(ctx, gw, localDB, nil)
//	if err != nil {
//	    return err
//	}
//	defer ws.Close(ctx)
//
//	if err := ws.SwitchKey(ctx, "OBRA-2024"); err != nil {
//	    return err
//	}
//	id := ws.ActiveProject()
//	_, err = ws.AddLog(ctx, id, schema.LogEntry{Notes: "Hormigonado de losa"})
//
// # Persistence failures
//
// Only local write failures are returned from mutations. Remote failures are
// reported through the sync status (see gateway.Status) and never roll back
// the store.
package sync
