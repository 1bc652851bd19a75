/*
 * This file is part of Chihaya.
 *
 * Chihaya is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * Chihaya is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with Chihaya.  If not, see <http://www.gnu.org/licenses/>.
 */

package record

import (
	"bufio"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"unit3d-announce/util"
)

type record struct {
	tid, uid       uint32
	ip             string
	port           uint16
	event          string
	seeding        bool
	rawUp, rawDown int64
	up, down, left uint64
}

func TestMain(m *testing.M) {
	tempPath := filepath.Join(os.TempDir(), "chihaya_record-"+util.RandStringBytes(6))

	if err := os.Mkdir(tempPath, 0755); err != nil {
		panic(err)
	}

	if err := os.Chdir(tempPath); err != nil {
		panic(err)
	}

	enabledByDefault = true // force-enable for tests

	Init()

	os.Exit(m.Run())
}

func TestRecord(t *testing.T) {
	var (
		recordValues    []record
		expectedOutputs []string
	)

	for i := 0; i < 10; i++ {
		tmp := record{
			tid:     rand.Uint32(),
			uid:     rand.Uint32(),
			ip:      "127.0.0.1",
			port:    uint16(rand.Uint32()),
			event:   "completed",
			seeding: true,
			rawUp:   int64(rand.Uint64()),
			rawDown: int64(rand.Uint64()),
			up:      rand.Uint64(),
			down:    rand.Uint64(),
			left:    rand.Uint64(),
		}
		recordValues = append(recordValues, tmp)

		expectedOutputs = append(
			expectedOutputs,
			"["+
				strconv.FormatUint(uint64(tmp.tid), 10)+","+
				strconv.FormatUint(uint64(tmp.uid), 10)+","+
				"\""+tmp.ip+"\""+","+
				strconv.FormatUint(uint64(tmp.port), 10)+","+
				"\""+tmp.event+"\""+","+
				util.Btoa(tmp.seeding)+","+
				strconv.FormatInt(tmp.rawUp, 10)+","+
				strconv.FormatInt(tmp.rawDown, 10)+","+
				strconv.FormatUint(tmp.up, 10)+","+
				strconv.FormatUint(tmp.down, 10)+","+
				strconv.FormatUint(tmp.left, 10)+
				"]",
		)
	}

	for _, item := range recordValues {
		Record(item.tid, item.uid, item.ip, item.port, item.event, item.seeding,
			item.rawUp, item.rawDown, item.up, item.down, item.left)
	}

	time.Sleep(200 * time.Millisecond)

	// In theory, below line can fail if this line was called in a different hour than when the file was made.
	// In practice, this would never occur since the file should be made fast enough for it to be in same error.
	recordFile, err := openEventFile(time.Now())
	if err != nil {
		t.Fatalf("Faced error in opening file: %s", err)
	}

	recordScanner := bufio.NewScanner(recordFile)
	recordScanner.Split(bufio.ScanLines)

	var recordLines []string

	for recordScanner.Scan() {
		recordLines = append(recordLines, recordScanner.Text())
	}

	if err := recordScanner.Err(); err != nil {
		t.Fatalf("Faced error in reading: %s", err)
	}

	if len(expectedOutputs) != len(recordLines) {
		t.Fatalf("The number of records do not match with what is expected! (expected %d, got %d)",
			len(expectedOutputs), len(recordLines))
	}

	for index, recordLine := range recordLines {
		if expectedOutputs[index] != recordLine {
			t.Fatalf("Expected %s but got %s in record!", expectedOutputs[index], recordLine)
		}
	}
}
