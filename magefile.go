//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/magefile/mage/mg"
)

var Default = Build

func Build() error {
	mg.Deps(BuildCscpack, BuildMeasureFormats)
	fmt.Println("Compilation finished")
	return nil
}

// goBuild compiles a command into ./bin. HDF5 needs cgo.
func goBuild(name string) error {
	fmt.Printf("Building %s executable...\n", name)
	cmd := exec.Command("go", "build", "-o", "./bin/"+name, "./"+name)
	cmd.Env = append(os.Environ(),
		"CGO_ENABLED=1",
		fmt.Sprintf("CGO_LDFLAGS=%s", os.Getenv("CGO_LDFLAGS")),
		fmt.Sprintf("CGO_CFLAGS=%s", os.Getenv("CGO_CFLAGS")))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func BuildCscpack() error {
	return goBuild("cscpack")
}

func BuildMeasureFormats() error {
	return goBuild("measureFormats")
}

// Test runs the library tests.
func Test() error {
	cmd := exec.Command("go", "test", "-race", "./pkg/...", "./cscpack/...")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=1")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
