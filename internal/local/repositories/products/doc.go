// Package products is the local SQLite adapter for product rows.
//
// Besides the few single-row helpers used when editing a product on this
// node (Create, Update, SoftDelete), it exposes the bulk primitives the sync
// engine works with: keyset listing of locally modified rows, state lookup
// by id, version-guarded bulk insert/update/soft-delete of pulled rows and
// marking pushed rows as synced.
//
// A row with is_modified_locally = 1 is never overwritten by the bulk
// writers; every guarded statement carries "is_modified_locally = 0".
package products
