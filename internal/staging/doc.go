// Package staging manages the directory that holds in-flight copies before
// they are renamed into the library.
package staging
