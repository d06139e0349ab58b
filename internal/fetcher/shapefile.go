package fetcher

import (
	"os"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/urban-recommender/internal/indicator"
)

// ReadShapefile reads zone attributes from the shapefile's DBF as indicator
// rows and converts each record's shape to a go-geom geometry. Geometries are
// aligned with the rows; unsupported or empty shapes become nil. A missing
// or empty DBF, or one whose record count differs from the shape count, is an
// error.
func ReadShapefile(shpPath, idColumn, encodingName string) (*indicator.Table, []geom.T, error) {
	enc, err := LookupEncoding(encodingName)
	if err != nil {
		return nil, nil, err
	}
	dec := enc.NewDecoder()

	// go-shp opens the attribute file lazily and drops the open error.
	dbfPath := dbfSibling(shpPath)
	if _, err := os.Stat(dbfPath); err != nil {
		return nil, nil, eris.Wrapf(err, "shapefile: attribute file %s", dbfPath)
	}

	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "shapefile: open %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	if len(fields) == 0 {
		return nil, nil, eris.Errorf("shapefile: %s has no attribute fields", dbfPath)
	}
	attrCount := reader.AttributeCount()
	names := make([]string, len(fields))
	idIdx := -1
	t := &indicator.Table{}
	for i, f := range fields {
		names[i] = strings.TrimSpace(strings.TrimRight(f.String(), "\x00"))
		if idColumn != "" && strings.EqualFold(names[i], idColumn) && idIdx < 0 {
			idIdx = i
			continue
		}
		t.Columns = append(t.Columns, names[i])
	}

	var geoms []geom.T
	var ids []string
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()

		row := make(indicator.Row, len(names))
		for i, name := range names {
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			if decoded, decErr := dec.String(val); decErr == nil {
				val = decoded
			}
			if i == idIdx {
				ids = append(ids, val)
				continue
			}
			row[name] = val
		}
		t.Rows = append(t.Rows, row)

		g := shapeToGeom(shape)
		if g == nil {
			skipped++
		}
		geoms = append(geoms, g)
	}
	if err := reader.Err(); err != nil {
		return nil, nil, eris.Wrapf(err, "shapefile: read %s", shpPath)
	}
	if attrCount != len(geoms) {
		return nil, nil, eris.Errorf("shapefile: %s has %d attribute records for %d shapes", dbfPath, attrCount, len(geoms))
	}
	if idIdx >= 0 {
		t.IDs = ids
	}

	if skipped > 0 {
		zap.L().Debug("fetcher: shapefile records without usable geometry",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}
	return t, geoms, nil
}

// dbfSibling returns the attribute file path go-shp reads for shpPath.
func dbfSibling(shpPath string) string {
	if len(shpPath) < 3 {
		return shpPath + "dbf"
	}
	return shpPath[:len(shpPath)-3] + "dbf"
}

// shapeToGeom converts a go-shp shape to a go-geom geometry. Returns nil for
// unsupported or empty shapes.
func shapeToGeom(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PolyLine:
		return polyLineToMultiLineString(s)
	case *shp.Polygon:
		return polygonToMultiPolygon(s)
	default:
		return nil
	}
}

// partRange returns the point index range [start, end) of part i.
func partRange(parts []int32, numParts int32, numPoints int, i int32) (int32, int32) {
	start := parts[i]
	end := int32(numPoints)
	if i+1 < numParts {
		end = parts[i+1]
	}
	return start, end
}

func polyLineToMultiLineString(pl *shp.PolyLine) geom.T {
	if pl == nil || pl.NumParts == 0 || len(pl.Points) == 0 {
		return nil
	}

	mls := geom.NewMultiLineString(geom.XY)
	for i := int32(0); i < pl.NumParts; i++ {
		start, end := partRange(pl.Parts, pl.NumParts, len(pl.Points), i)
		ls := geom.NewLineStringFlat(geom.XY, flatPoints(pl.Points[start:end]))
		if err := mls.Push(ls); err != nil {
			zap.L().Debug("fetcher: skipping malformed linestring part", zap.Int32("part", i), zap.Error(err))
		}
	}

	if mls.NumLineStrings() == 0 {
		return nil
	}
	return mls
}

// polygonToMultiPolygon keeps each ring as its own polygon; holes are not
// reattached to their shells.
func polygonToMultiPolygon(p *shp.Polygon) geom.T {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY)
	for i := int32(0); i < p.NumParts; i++ {
		start, end := partRange(p.Parts, p.NumParts, len(p.Points), i)
		ring := geom.NewLinearRingFlat(geom.XY, flatPoints(p.Points[start:end]))
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("fetcher: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("fetcher: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

func flatPoints(pts []shp.Point) []float64 {
	flat := make([]float64, 0, len(pts)*2)
	for _, p := range pts {
		flat = append(flat, p.X, p.Y)
	}
	return flat
}
