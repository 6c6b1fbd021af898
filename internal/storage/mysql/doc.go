// Package mysql archives finished research runs. Reports are kept either in
// a local JSON-lines file (the default) or in MySQL, whose schema is
// created from the embedded migrations on start-up.
package mysql
