package layout

import (
	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/record"
	"github.com/deploymenttheory/go-ntfsbox/internal/runlist"
	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

func (p *plan) buildVolume() error {
	rec, err := p.baseRecord(types.RecordVolume, record.Sizes{}, false)
	if err != nil {
		return err
	}
	info := record.VolumeInformation{MajorVersion: types.NTFSMajorVersion, MinorVersion: types.NTFSMinorVersion}
	if _, err := rec.InsertResident(types.AttrVolumeName, "", 0, record.EncodeName(p.opts.Label)); err != nil {
		return errors.Wrap(err, "building $Volume")
	}
	if _, err := rec.InsertResident(types.AttrVolumeInformation, "", 0, info.Encode()); err != nil {
		return errors.Wrap(err, "building $Volume")
	}
	if _, err := rec.InsertResident(types.AttrData, "", 0, nil); err != nil {
		return errors.Wrap(err, "building $Volume")
	}
	p.records[types.RecordVolume] = rec
	return nil
}

// buildBadClus maps the whole volume as one sparse run of $Bad.
func (p *plan) buildBadClus() error {
	rec, err := p.baseRecord(types.RecordBadClus, record.Sizes{}, false)
	if err != nil {
		return err
	}
	if _, err := rec.InsertResident(types.AttrData, "", 0, nil); err != nil {
		return errors.Wrap(err, "building $BadClus")
	}
	bad := runlist.Runlist{{VCN: 0, LCN: runlist.LCNHole, Length: p.geo.TotalClusters}}
	size := p.bytes(p.geo.TotalClusters)
	sizes := record.Sizes{Allocated: size, Data: size, Initialized: size}
	if _, err := rec.InsertNonResident(types.AttrData, types.StreamBad, 0, bad, sizes); err != nil {
		return errors.Wrap(err, "building $BadClus")
	}
	p.records[types.RecordBadClus] = rec
	return nil
}

// buildSecure creates an empty security store: a resident $SDS stream and
// the two view indexes over it.
func (p *plan) buildSecure() error {
	rec, err := p.baseRecord(types.RecordSecure, record.Sizes{}, false)
	if err != nil {
		return err
	}
	if _, err := rec.InsertResident(types.AttrData, types.StreamSDS, 0, nil); err != nil {
		return errors.Wrap(err, "building $Secure")
	}
	views := []record.IndexSpec{
		{Name: types.IndexNameSDH, Collation: types.CollationNtofsSecurityHash},
		{Name: types.IndexNameSII, Collation: types.CollationNtofsULong},
	}
	for _, spec := range views {
		spec.BlockSize = p.geo.IndexBlockSize
		spec.ClusterSize = p.geo.ClusterSize
		if err := record.BuildIndexRoot(rec, spec, nil); err != nil {
			return errors.Wrapf(err, "building $Secure:%s", spec.Name)
		}
	}
	rec.SetFlag(types.RecordFlagViewIndex, true)
	p.records[types.RecordSecure] = rec
	return nil
}

func (p *plan) dirSpec() record.IndexSpec {
	return record.IndexSpec{
		Name:        types.IndexNameI30,
		IndexedType: types.AttrFileName,
		Collation:   types.CollationFileName,
		BlockSize:   p.geo.IndexBlockSize,
		ClusterSize: p.geo.ClusterSize,
	}
}

func (p *plan) buildExtend() error {
	rec, err := p.baseRecord(types.RecordExtend, record.Sizes{}, true)
	if err != nil {
		return err
	}
	if err := record.BuildIndexRoot(rec, p.dirSpec(), nil); err != nil {
		return errors.Wrap(err, "building $Extend")
	}
	p.records[types.RecordExtend] = rec
	return nil
}

// buildReserved fills records 12 to 15, which are kept in use but hold
// nothing.
func (p *plan) buildReserved() error {
	for n := types.RecordExtend + 1; n < types.SystemRecordCount; n++ {
		rec, err := record.New(p.geo.RecordSize, uint32(n), sequence(n))
		if err != nil {
			return err
		}
		si := record.StandardInformation{Created: p.now, Modified: p.now, MFTModified: p.now, Accessed: p.now}
		if _, err := rec.InsertResident(types.AttrStandardInformation, "", 0, si.Encode()); err != nil {
			return err
		}
		if _, err := rec.InsertResident(types.AttrData, "", 0, nil); err != nil {
			return err
		}
		p.records[n] = rec
	}
	return nil
}

// buildRoot creates the root directory and indexes every named system file,
// itself included. It runs last so every $FILE_NAME is known.
func (p *plan) buildRoot() error {
	rec, err := p.baseRecord(types.RecordRoot, record.Sizes{}, true)
	if err != nil {
		return err
	}
	entries := make([]record.IndexEntry, 0, len(p.names))
	for n, fn := range p.names {
		entries = append(entries, record.IndexEntry{
			FileReference: record.NewFileReference(n, sequence(n)),
			Key:           fn.Encode(),
		})
	}
	large, err := p.builder.BuildIndex(rec, p.dirSpec(), entries, p.mftRL.EndVCN())
	if err != nil {
		if errors.Is(err, types.ErrNoSpace) {
			return errors.Wrap(types.ErrInvalidGeometry, "volume too small for the root index")
		}
		return errors.Wrap(err, "building root directory")
	}
	if large != nil {
		p.extents = append(p.extents, extent{rl: large.Runlist, data: large.Data})
	}
	p.records[types.RecordRoot] = rec
	return nil
}
