package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli"
)

func exportTrain(ctx *cli.Context) error {
	idx, err := strconv.Atoi(ctx.Args().First())
	if err != nil {
		return errors.New("export needs a numeric train index")
	}
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	mgr, err := newTrainManager(conf)
	if err != nil {
		return err
	}
	code, err := mgr.Export(idx)
	if err != nil {
		return err
	}
	fmt.Println(code)
	return nil
}

// importTrain reads the share code from the first argument, or from stdin
// when the argument is missing or "-".
func importTrain(ctx *cli.Context) error {
	code := ctx.Args().First()
	if code == "" || code == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		code = strings.TrimSpace(string(data))
	}

	conf, err := loadConfig()
	if err != nil {
		return err
	}
	mgr, err := newTrainManager(conf)
	if err != nil {
		return err
	}
	idx, err := mgr.Import(code)
	if err != nil {
		return err
	}
	t, _ := mgr.Train(idx)
	fmt.Printf("imported %q by %s with %d steps as train %d\n", t.Name, t.Author, len(t.Steps), idx)
	return nil
}
