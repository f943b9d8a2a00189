// Command tenes optimizes an iPEPS ground state for a 2D lattice model and
// measures its observables, driven by a TOML input file.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lzhang714/TeNeS"
)

const version = "1.0.0"

var (
	inputPath string
	outputDir string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "tenes",
	Short: "Tensor network solver for 2D quantum lattice ground states",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Optimize the state and measure observables",
	RunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
		in, err := loadInput(inputPath)
		if err != nil {
			return err
		}
		if outputDir != "" {
			in.Parameter.OutDir = outputDir
		}
		res, err := tenes.Run(in)
		if err != nil {
			return err
		}
		logrus.Infof("energy density %.12g", res.EnergyDensity)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	runCmd.Flags().StringVarP(&inputPath, "input", "i", "input.toml", "input file")
	runCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "output directory, overrides the input file")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Errorf("%+v", err)
		os.Exit(1)
	}
}
