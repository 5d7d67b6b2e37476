package emit

// runtime is prepended to every chunk. Shared chunks load before the entry
// chunk, so each of them must be able to set the registry up; the guard makes
// repeated copies harmless.
const runtime = `(function (g) {
  if (g.__quire__) return;
  var defs = {}, cache = {}, done = {}, waiting = {}, files = {}, asyncs = {};
  var q = g.__quire__ = { p: "" };
  function has(o, k) { return Object.prototype.hasOwnProperty.call(o, k); }
  q.chunk = function (name) { done[name] = true; };
  q.define = function (id, deps, fn) { if (!has(defs, id)) defs[id] = { d: deps, f: fn }; };
  q.manifest = function (publicPath, fileMap, asyncMap) {
    q.p = publicPath;
    for (var f in fileMap) if (has(fileMap, f)) files[f] = fileMap[f];
    for (var a in asyncMap) if (has(asyncMap, a)) asyncs[a] = asyncMap[a];
  };
  q.load = function (names) {
    return Promise.all(names.map(function (name) {
      if (done[name]) return null;
      if (waiting[name]) return waiting[name];
      return (waiting[name] = new Promise(function (resolve, reject) {
        var s = document.createElement("script");
        s.src = q.p + files[name];
        s.onload = function () { done[name] = true; resolve(); };
        s.onerror = function () { delete waiting[name]; reject(new Error("quire: cannot load chunk " + name)); };
        document.head.appendChild(s);
      }));
    }));
  };
  q.require = function load(id) {
    if (has(cache, id)) return cache[id].exports;
    var def = defs[id];
    if (!def) throw new Error("quire: module " + id + " is not loaded");
    var m = cache[id] = { id: id, exports: {} };
    function require(spec) { return load(has(def.d, spec) ? def.d[spec] : spec); }
    require.async = function (spec) {
      var target = has(def.d, spec) ? def.d[spec] : spec;
      return q.load(asyncs[target] || []).then(function () { return load(target); });
    };
    def.f.call(m.exports, m, m.exports, require);
    return m.exports;
  };
  q.run = function (id, names) {
    return q.load(names).then(function () { return q.require(id); });
  };
})(typeof self !== "undefined" ? self : this);
`
