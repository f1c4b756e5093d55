package stitch

import "testing"

func TestFilterKeypointsKeepsFinestPerBucket(t *testing.T) {
	keypoints := []Keypoint{
		{X: 1, Y: 1, Sigma: 5},
		{X: 2, Y: 2, Sigma: 1}, // finest in bucket (0,0)
		{X: 50, Y: 50, Sigma: 3},
	}
	descriptors := [][]float64{{1}, {2}, {3}}

	kp, desc := filterKeypoints(keypoints, descriptors, 10, 2)
	if len(kp) != 2 {
		t.Fatalf("expected 2 keypoints kept (1 per bucket), got %d", len(kp))
	}
	found := false
	for i, k := range kp {
		if k.Sigma == 1 && desc[i][0] == 2 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the finest-scale keypoint in bucket (0,0) to survive")
	}
}

func TestFilterKeypointsEmptyInput(t *testing.T) {
	kp, desc := filterKeypoints(nil, nil, 10, 100)
	if kp != nil || desc != nil {
		t.Fatalf("expected nil, nil for empty input, got %v, %v", kp, desc)
	}
}

func TestFilterKeypointsDistributesAcrossBuckets(t *testing.T) {
	keypoints := []Keypoint{
		{X: 1, Y: 1, Sigma: 1},
		{X: 100, Y: 100, Sigma: 1},
		{X: 200, Y: 200, Sigma: 1},
	}
	descriptors := [][]float64{{0}, {0}, {0}}
	kp, _ := filterKeypoints(keypoints, descriptors, 10, 3)
	if len(kp) != 3 {
		t.Fatalf("expected all 3 distinct-bucket keypoints kept, got %d", len(kp))
	}
}
