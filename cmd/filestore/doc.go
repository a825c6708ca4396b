// Command filestore works with the disks described in a filesystems file.
//
//	filestore put ./logo.png images/logo.png
//	filestore --disk remote url images/logo.png
//	filestore sync ./public assets/ --workers 16
//	filestore serve --addr :8080
//
// The disk list is read from --config (default: STORAGE_CONFIG, then
// config/filesystems.yaml). Without a file the built-in local disk under
// ./storage is used.
package main
