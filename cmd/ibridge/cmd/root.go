/*
Copyright © 2026 mobiledevkit

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"os"

	"github.com/apex/log"
	clihander "github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"

	"github.com/mobiledevkit/ibridge/internal/config"
	"github.com/mobiledevkit/ibridge/internal/utils"
	"github.com/mobiledevkit/ibridge/pkg/usb/lockdownd"
	"github.com/mobiledevkit/ibridge/pkg/usb/mount"
)

// Verbose boolean flag for verbose logging
var Verbose bool

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ibridge",
	Short: "Install and remotely debug apps on iOS devices",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func init() {
	log.SetHandler(clihander.Default)

	rootCmd.PersistentFlags().BoolVarP(&Verbose, "verbose", "V", false, "verbose output")
	rootCmd.PersistentFlags().StringP("udid", "u", "", "target device UDID")
}

// ensureDeveloperImage mounts the version-matched developer disk image and
// returns its host-side paths (the Dir doubles as the lldb sysroot).
func ensureDeveloperImage(cfg *config.Config, udid string) (*mount.DeveloperImage, error) {
	s, err := lockdownd.NewSession(udid)
	if err != nil {
		return nil, err
	}
	version, err := s.ProductVersion()
	s.Close()
	if err != nil {
		return nil, err
	}

	devDir, err := cfg.ResolveDeveloperDir()
	if err != nil {
		return nil, err
	}
	img, err := mount.FindDeveloperImage(devDir, version)
	if err != nil {
		return nil, err
	}

	mc, err := mount.NewClient(udid)
	if err != nil {
		return nil, err
	}
	defer mc.Close()

	if err := mc.MountDeveloperImage(img); err != nil {
		return nil, err
	}
	log.WithField("image", img.Dir).Debug("developer image mounted")
	return img, nil
}

func targetUDID(cmd *cobra.Command) (string, error) {
	udid, _ := cmd.Flags().GetString("udid")
	return utils.DeviceUDID(udid)
}
