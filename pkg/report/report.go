// Package report turns engine state into DataFrames for display and export.
//
// Frames are plain rocketlaunchr/dataframe-go values, so callers can render
// them with Table() or hand them to Write/WriteFile.
package report

import (
	"fmt"

	dataframe "github.com/rocketlaunchr/dataframe-go"

	"github.com/akhildatla/stackvm/pkg/vm"
)

// Catalog returns one row per opcode, in ID order.
func Catalog() *dataframe.DataFrame {
	defs := vm.Catalog()

	ids := make([]interface{}, 0, len(defs))
	hexes := make([]interface{}, 0, len(defs))
	names := make([]interface{}, 0, len(defs))
	sigs := make([]interface{}, 0, len(defs))
	sizes := make([]interface{}, 0, len(defs))
	stack := make([]interface{}, 0, len(defs))
	descs := make([]interface{}, 0, len(defs))

	for _, d := range defs {
		ids = append(ids, int64(d.ID))
		hexes = append(hexes, fmt.Sprintf("0x%02X", uint8(d.ID)))
		names = append(names, d.Mnemonic())
		sigs = append(sigs, d.Signature)
		sizes = append(sizes, int64(d.Size()))
		stack = append(stack, d.Diagram.String())
		descs = append(descs, d.Description)
	}

	return dataframe.NewDataFrame(
		dataframe.NewSeriesInt64("id", nil, ids...),
		dataframe.NewSeriesString("hex", nil, hexes...),
		dataframe.NewSeriesString("mnemonic", nil, names...),
		dataframe.NewSeriesString("signature", nil, sigs...),
		dataframe.NewSeriesInt64("bytes", nil, sizes...),
		dataframe.NewSeriesString("stack", nil, stack...),
		dataframe.NewSeriesString("description", nil, descs...),
	)
}

// Registers returns one row per register of snap.
func Registers(snap vm.Snapshot) *dataframe.DataFrame {
	infos := vm.Registers()

	names := make([]interface{}, 0, len(infos))
	classes := make([]interface{}, 0, len(infos))
	values := make([]interface{}, 0, len(infos))
	hexes := make([]interface{}, 0, len(infos))

	for i, r := range infos {
		v := snap.Registers[i]
		names = append(names, r.Name)
		classes = append(classes, r.Class.String())
		values = append(values, v)
		hexes = append(hexes, vm.FormatValue(v))
	}

	return dataframe.NewDataFrame(
		dataframe.NewSeriesString("register", nil, names...),
		dataframe.NewSeriesString("class", nil, classes...),
		dataframe.NewSeriesInt64("value", nil, values...),
		dataframe.NewSeriesString("hex", nil, hexes...),
	)
}

// Stack returns one row per cell of snap, top of the stack first. Empty cells
// have a nil value.
func Stack(snap vm.Snapshot) *dataframe.DataFrame {
	n := len(snap.Cells)

	indexes := make([]interface{}, 0, n)
	values := make([]interface{}, 0, n)
	markers := make([]interface{}, 0, n)

	for i := n - 1; i >= 0; i-- {
		c := snap.Cells[i]
		indexes = append(indexes, int64(i))
		if c.Occupied {
			values = append(values, c.Value)
		} else {
			values = append(values, nil)
		}
		if i == snap.SP {
			markers = append(markers, "<- SP")
		} else {
			markers = append(markers, "")
		}
	}

	return dataframe.NewDataFrame(
		dataframe.NewSeriesInt64("index", nil, indexes...),
		dataframe.NewSeriesInt64("value", nil, values...),
		dataframe.NewSeriesString("marker", nil, markers...),
	)
}
