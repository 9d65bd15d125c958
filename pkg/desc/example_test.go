package desc_test

import (
	"errors"
	"fmt"
	"os"

	"github.com/epithet-ssh/pacdb/pkg/desc"
)

func ExampleUnmarshal() {
	type pkg struct {
		Name     string   `desc:"NAME"`
		Version  string   `desc:"VERSION"`
		Depends  []string `desc:"DEPENDS"`
		Packager *string  `desc:"PACKAGER"`
	}

	data := []byte("%NAME%\nsample-pkg\n\n%VERSION%\n1.0-1\n\n%DEPENDS%\nlibfoo\nlibbar\n\n")

	var p pkg
	if err := desc.Unmarshal(data, &p); err != nil {
		panic(err)
	}
	fmt.Println(p.Name, p.Version, p.Depends, p.Packager == nil)
	// Output: sample-pkg 1.0-1 [libfoo libbar] true
}

func ExampleMarshal() {
	type pkg struct {
		Name    string   `desc:"NAME"`
		Depends []string `desc:"DEPENDS"`
		Desc    *string  `desc:"DESC"`
	}

	data, err := desc.Marshal(pkg{Name: "sample-pkg", Depends: []string{"libfoo"}})
	if err != nil {
		panic(err)
	}
	fmt.Print(string(data))
	// Output:
	// %NAME%
	// sample-pkg
	//
	// %DEPENDS%
	// libfoo
}

func ExampleEncoder() {
	enc := desc.NewEncoder(os.Stdout)
	if err := enc.Encode(map[string]string{"NAME": "sample-pkg", "ARCH": "x86_64"}); err != nil {
		panic(err)
	}
	// Output:
	// %ARCH%
	// x86_64
	//
	// %NAME%
	// sample-pkg
}

func ExampleSyntaxError() {
	var p struct {
		Size uint8 `desc:"SIZE"`
	}

	err := desc.Unmarshal([]byte("%SIZE%\n256\n"), &p)
	fmt.Println(errors.Is(err, desc.ErrIntegerFormat))
	fmt.Println(err)
	// Output:
	// true
	// desc: line 2: field SIZE: "256" overflows 8-bit integer
}
