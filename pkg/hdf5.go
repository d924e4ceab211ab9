package cscraw

import (
	"fmt"

	"gonum.org/v1/hdf5"
)

type RunInfoHDF5 struct {
	run_number int32
	run_id     [STRLEN]byte
}

type EventReportHDF5 struct {
	evt_number   int32
	status       int32
	record_size  int32
	n_chambers   int32
	n_truth      int32
	n_readout    int32
	n_unpacked   int32
	n_matched    int32
	n_missing    int32
	n_extra      int32
	tests_run    int32
	tests_passed int32
}

type MismatchHDF5 struct {
	evt_number  int32
	raw_id      uint32
	kind        int32
	discrepancy int32
	channel     int32
	bx          int32
}

type BusyChamberHDF5 struct {
	evt_number int32
	raw_id     uint32
	kind       int32
	count      int32
}

type KindSummaryHDF5 struct {
	kind      [STRLEN]byte
	truth     int32
	candidate int32
	matched   int32
}

const STRLEN = 40

func convertToHdf5String(s string) [STRLEN]byte {
	var byteArray [STRLEN]byte
	copy(byteArray[:], s)
	return byteArray
}

func openFile(fname string) (*hdf5.File, error) {
	f, err := hdf5.CreateFile(fname, hdf5.F_ACC_TRUNC)
	if err != nil {
		return nil, &ErrOpenFile{Filename: fname, Err: err}
	}
	return f, nil
}

func createTable(group *hdf5.Group, name string, datatype interface{}, compression int) (*hdf5.Dataset, error) {
	dims := []uint{0}
	unlimitedDims := -1 // H5S_UNLIMITED is -1L
	maxDims := []uint{uint(unlimitedDims)}
	fileSpace, err := hdf5.CreateSimpleDataspace(dims, maxDims)
	if err != nil {
		return nil, fmt.Errorf("error creating dataspace for %s: %w", name, err)
	}
	defer fileSpace.Close()

	plist, err := hdf5.NewPropList(hdf5.P_DATASET_CREATE)
	if err != nil {
		return nil, fmt.Errorf("error creating property list for %s: %w", name, err)
	}
	defer plist.Close()

	chunks := []uint{32768}
	if err := plist.SetChunk(chunks); err != nil {
		return nil, fmt.Errorf("error setting chunks of %s: %w", name, err)
	}
	if compression > 0 {
		if err := plist.SetDeflate(compression); err != nil {
			return nil, fmt.Errorf("error setting compression of %s: %w", name, err)
		}
	}

	dtype, err := hdf5.NewDatatypeFromValue(datatype)
	if err != nil {
		return nil, fmt.Errorf("error creating datatype for %s: %w", name, err)
	}

	dset, err := group.CreateDatasetWith(name, dtype, fileSpace, plist)
	if err != nil {
		return nil, fmt.Errorf("error creating table %s: %w", name, err)
	}
	return dset, nil
}

func writeEntryToTable[T any](dataset *hdf5.Dataset, data T, rowCounter int) error {
	array := []T{data}
	return writeArrayToTable(dataset, &array, rowCounter)
}

// writeArrayToTable appends data after the first rowCounter rows.
func writeArrayToTable[T any](dataset *hdf5.Dataset, data *[]T, rowCounter int) error {
	length := uint(len(*data))
	if length == 0 {
		return nil
	}
	dims := []uint{length}
	dataspace, err := hdf5.CreateSimpleDataspace(dims, nil)
	if err != nil {
		return fmt.Errorf("error creating memory dataspace: %w", err)
	}
	defer dataspace.Close()

	rowsInFile := uint(rowCounter)
	newsize := []uint{rowsInFile + length}
	if err := dataset.Resize(newsize); err != nil {
		return fmt.Errorf("error extending table: %w", err)
	}
	filespace := dataset.Space()
	defer filespace.Close()

	start := []uint{rowsInFile}
	count := []uint{length}
	if err := filespace.SelectHyperslab(start, nil, count, nil); err != nil {
		return fmt.Errorf("error selecting rows: %w", err)
	}
	return dataset.WriteSubset(data, dataspace, filespace)
}
