// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package offset

import "testing"

const n = 1 << 18 // 1GiB / 4KiB blocks, the scenario spec.md's distribution
// properties are phrased against.

func TestUniformStaysWithinBounds(t *testing.T) {
	u := NewUniform(1)
	for i := 0; i < 100000; i++ {
		v := u.Next(n)
		if v < 0 || v >= n {
			t.Fatalf("Uniform.Next() = %d, out of [0,%d)", v, n)
		}
	}
}

func TestUniformNoHotBand(t *testing.T) {
	u := NewUniform(2)
	h := NewHeatmap(100, n)
	const draws = 200000
	for i := 0; i < draws; i++ {
		h.Observe(u.Next(n))
	}
	// No 1% band should contain a wildly disproportionate share; allow
	// generous slack above the spec's measured 1.02% since this is a much
	// smaller sample than the spec's 10M-draw scenario.
	for i := 0; i < 100; i++ {
		frac := h.FractionInFirst(float64(i+1)/100.0) - h.FractionInFirst(float64(i)/100.0)
		if frac > 0.03 {
			t.Fatalf("band %d holds %.4f of draws, want roughly uniform (~0.01)", i, frac)
		}
	}
}

func TestZipfConcentratesMoreThanUniform(t *testing.T) {
	uHeat := NewHeatmap(100, n)
	zHeat := NewHeatmap(100, n)
	u := NewUniform(3)
	z := NewZipf(4, 1.2)
	const draws = 200000
	for i := 0; i < draws; i++ {
		uHeat.Observe(u.Next(n))
		zHeat.Observe(z.Next(n))
	}
	uFirst20 := uHeat.FractionInFirst(0.2)
	zFirst20 := zHeat.FractionInFirst(0.2)
	if zFirst20 <= uFirst20 {
		t.Fatalf("zipf first-20%% share (%.3f) not greater than uniform's (%.3f)", zFirst20, uFirst20)
	}
	// spec.md §8: theta=1.2 must put at least 97% of draws in the first 20%
	// of the address space.
	if zFirst20 < 0.97 {
		t.Fatalf("zipf first-20%% share = %.3f, want >= 0.97 per spec.md §8", zFirst20)
	}
}

func TestParetoConcentratesMoreThanUniform(t *testing.T) {
	uHeat := NewHeatmap(100, n)
	pHeat := NewHeatmap(100, n)
	u := NewUniform(5)
	p := NewPareto(6, 0.9)
	const draws = 200000
	for i := 0; i < draws; i++ {
		uHeat.Observe(u.Next(n))
		pHeat.Observe(p.Next(n))
	}
	uFirst20 := uHeat.FractionInFirst(0.2)
	pFirst20 := pHeat.FractionInFirst(0.2)
	if pFirst20 <= uFirst20 {
		t.Fatalf("pareto first-20%% share (%.3f) not greater than uniform's (%.3f)", pFirst20, uFirst20)
	}
	// spec.md §8: h=0.9 must put at least 78% of draws in the first 20% of
	// the address space.
	if pFirst20 < 0.78 {
		t.Fatalf("pareto first-20%% share = %.3f, want >= 0.78 per spec.md §8", pFirst20)
	}
}

func TestZipfMoreConcentratedThanPareto(t *testing.T) {
	// theta=1.2 is specified to reach 97% while h=0.9 reaches only 78%:
	// Zipf at these parameters must concentrate more than Pareto.
	zHeat := NewHeatmap(100, n)
	pHeat := NewHeatmap(100, n)
	z := NewZipf(7, 1.2)
	p := NewPareto(8, 0.9)
	const draws = 200000
	for i := 0; i < draws; i++ {
		zHeat.Observe(z.Next(n))
		pHeat.Observe(p.Next(n))
	}
	if zHeat.FractionInFirst(0.2) <= pHeat.FractionInFirst(0.2) {
		t.Fatalf("expected zipf(theta=1.2) to concentrate more than pareto(h=0.9)")
	}
}

func TestGaussianWithinTwoSigma(t *testing.T) {
	g := NewGaussian(9, 0.5, 0.1)
	within := 0
	const draws = 100000
	lo := int64(n * 3 / 10)
	hi := int64(n * 7 / 10)
	for i := 0; i < draws; i++ {
		v := g.Next(n)
		if v < 0 || v >= n {
			t.Fatalf("Gaussian.Next() = %d, out of bounds", v)
		}
		if v >= lo && v <= hi {
			within++
		}
	}
	frac := float64(within) / float64(draws)
	if frac < 0.95 {
		t.Fatalf("fraction within mu+-2sigma = %.3f, want >= 0.95 per spec.md §8", frac)
	}
}
