// Command mkfs creates (or opens) a raw disk image of the given size and,
// with -f/--format, writes a fresh, empty file system onto it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"eduk/fs"
	"eduk/klog"
)

func main() {
	pflag.BoolP("format", "f", false, "write a fresh, empty volume before anything else (the -f flag)")
	pflag.String("disk", "eduk.img", "path to the disk image file")
	pflag.Uint32("sectors", 8192, "size of the disk image, in 512-byte sectors")
	pflag.StringSliceP("o", "o", nil, "scheduler options recorded but not interpreted, e.g. mlfqs")
	pflag.String("loglevel", "info", "trace|debug|info|warn|error")
	pflag.Parse()

	v := viper.New()
	v.SetEnvPrefix("EDUK")
	v.AutomaticEnv()
	if err := v.BindPFlags(pflag.CommandLine); err != nil {
		fmt.Fprintln(os.Stderr, "mkfs: bad flags:", err)
		os.Exit(1)
	}

	setLogLevel(v.GetString("loglevel"))

	if opts := v.GetStringSlice("o"); len(opts) > 0 {
		klog.Info("mkfs: scheduler options recorded", "options", opts)
	}

	diskPath := v.GetString("disk")
	sectors := v.GetUint32("sectors")

	disk, err := fs.OpenFileDisk(diskPath, sectors, fs.RoleFilesys)
	if err != 0 {
		fmt.Fprintln(os.Stderr, "mkfs: open disk:", err.Error())
		os.Exit(1)
	}
	defer disk.Close()

	if v.GetBool("format") {
		if ferr := fs.Format(disk); ferr != 0 {
			fmt.Fprintln(os.Stderr, "mkfs: format:", ferr.Error())
			os.Exit(1)
		}
		klog.Info("mkfs: formatted", "disk", diskPath, "sectors", sectors)
	}
}

func setLogLevel(s string) {
	switch s {
	case "trace":
		klog.MinLevel = klog.TRACE
	case "debug":
		klog.MinLevel = klog.DEBUG
	case "warn":
		klog.MinLevel = klog.WARN
	case "error":
		klog.MinLevel = klog.ERROR
	default:
		klog.MinLevel = klog.INFO
	}
}
